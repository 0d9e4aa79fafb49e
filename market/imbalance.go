package market

// CalculateImbalance calculates the imbalance between bid and ask volumes
// Imbalance = (BidVol - AskVol) / (BidVol + AskVol)
func CalculateImbalance(bidVolumeTop float64, askVolumeTop float64) float64 {
	totalVolume := bidVolumeTop + askVolumeTop
	if totalVolume <= 0 {
		return 0
	}
	imb := (bidVolumeTop - askVolumeTop) / totalVolume
	// 负数量的脏数据可能让结果越界
	if imb > 1 {
		return 1
	}
	if imb < -1 {
		return -1
	}
	return imb
}

// CalculateImbalanceFromLevels uses the top `levels` entries of each side.
// A one-sided book has no imbalance.
func CalculateImbalanceFromLevels(bids, asks []Level, levels int) float64 {
	if levels <= 0 || len(bids) == 0 || len(asks) == 0 {
		return 0
	}
	return CalculateImbalance(topVolume(bids, levels), topVolume(asks, levels))
}

func topVolume(side []Level, levels int) float64 {
	vol := 0.0
	for i, lv := range side {
		if i >= levels {
			break
		}
		vol += lv.Size
	}
	return vol
}
