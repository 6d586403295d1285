package elements

// frameCheck はデコード済みRGBAフレームの破損を検出する。
// パケットロス後の緑色フレームやブロックノイズを表示しないため
type frameCheck struct {
	width, height  int
	consecutiveBad int
	thresholds     frameThresholds
}

type frameThresholds struct {
	// 緑優位ピクセルの割合（正常:0.28%、ノイズ:0.75%以上）
	GreenDominantRatio float64
	// ブロック境界での輝度差
	BlockEdgeLuma int
	// 異常とみなすブロック境界の割合（正常:2%、ノイズ:5%以上）
	BlockingRatio float64
	// これを超えて連続で破損したらキーフレーム待ち
	MaxConsecutiveBad int
}

func defaultFrameThresholds() frameThresholds {
	return frameThresholds{
		GreenDominantRatio: 0.006,
		BlockEdgeLuma:      80,
		BlockingRatio:      0.030,
		MaxConsecutiveBad:  5,
	}
}

func newFrameCheck() *frameCheck {
	return &frameCheck{thresholds: defaultFrameThresholds()}
}

// Check returns an empty reason for a usable frame. A resolution change
// resets the history.
func (c *frameCheck) Check(rgba []byte, width, height int) (reason string) {
	if width != c.width || height != c.height {
		c.width, c.height = width, height
		c.consecutiveBad = 0
	}
	switch {
	case len(rgba) != width*height*4:
		reason = "invalid frame size"
	case c.greenRatio(rgba) > c.thresholds.GreenDominantRatio:
		reason = "green dominant frame"
	case c.blockingRatio(rgba) > c.thresholds.BlockingRatio:
		reason = "macroblocking detected"
	}
	if reason != "" {
		c.consecutiveBad++
	} else {
		c.consecutiveBad = 0
	}
	return reason
}

// NeedsKeyframe reports too many corrupt frames in a row.
func (c *frameCheck) NeedsKeyframe() bool {
	return c.consecutiveBad > c.thresholds.MaxConsecutiveBad
}

// Reset clears the bad-frame streak.
func (c *frameCheck) Reset() {
	c.consecutiveBad = 0
}

// greenRatio samples every 16th pixel. YUV→RGB of a failed decode tends to
// come out green.
func (c *frameCheck) greenRatio(rgba []byte) float64 {
	const step = 16
	green, sampled := 0, 0
	for i := 0; i+3 < len(rgba); i += 4 * step {
		r, g, b := int(rgba[i]), int(rgba[i+1]), int(rgba[i+2])
		sampled++
		if g > r+30 && g > b+30 {
			green++
		}
	}
	if sampled == 0 {
		return 0
	}
	return float64(green) / float64(sampled)
}

// blockingRatio compares luma across the 16x16 macroblock boundaries.
func (c *frameCheck) blockingRatio(rgba []byte) float64 {
	const block = 16
	w, h := c.width, c.height
	bad, total := 0, 0

	edge := func(a, b int) {
		total++
		if abs(luma(rgba[a:])-luma(rgba[b:]))/1000 > c.thresholds.BlockEdgeLuma {
			bad++
		}
	}
	for y := 0; y < h; y++ {
		for x := block; x < w; x += block {
			edge((y*w+x-1)*4, (y*w+x)*4)
		}
	}
	for y := block; y < h; y += block {
		for x := 0; x < w; x++ {
			edge(((y-1)*w+x)*4, (y*w+x)*4)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

// luma is 1000 × (0.299R + 0.587G + 0.114B).
func luma(px []byte) int {
	return int(px[0])*299 + int(px[1])*587 + int(px[2])*114
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
