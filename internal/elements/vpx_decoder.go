package elements

import (
	"fmt"
	"time"

	vpx "github.com/Azunyan1111/libvpx-go/vpx"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

// vp8Decoder decodes VP8 frames to packed RGBA.
type vp8Decoder struct {
	ctx          *vpx.CodecCtx
	seenKeyframe bool
	check        *frameCheck
}

func newVPXDecoder() (*vp8Decoder, error) {
	ctx := vpx.NewCodecCtx()
	if err := vpx.Error(vpx.CodecDecInitVer(ctx, vpx.DecoderIfaceVP8(), nil, 0, vpx.DecoderABIVersion)); err != nil {
		return nil, fmt.Errorf("failed to initialize VPX decoder: %w", err)
	}
	return &vp8Decoder{ctx: ctx, check: newFrameCheck()}, nil
}

// Decode returns nil pixels while no picture is ready yet, including the
// inter frames that arrive before the first keyframe. Corrupt pictures are
// dropped; after a run of them the decoder waits for the next keyframe.
func (d *vp8Decoder) Decode(data []byte, keyframe bool) (rgba []byte, width, height int, err error) {
	if len(data) == 0 {
		return nil, 0, 0, nil
	}
	if !d.seenKeyframe {
		if !keyframe {
			logging.DebugLogPeriodic("vpx-wait", 2*time.Second, "Waiting for keyframe before decoding\n")
			return nil, 0, 0, nil
		}
		d.seenKeyframe = true
		d.check.Reset()
	}

	if err := vpx.Error(vpx.CodecDecode(d.ctx, string(data), uint32(len(data)), nil, 0)); err != nil {
		if len(data) >= 10 {
			logging.DebugLog("Decode failed: len=%d, header=%x, keyframe=%v\n", len(data), data[:10], keyframe)
		}
		return nil, 0, 0, fmt.Errorf("vp8 decode: %w", err)
	}

	var iter vpx.CodecIter
	img := vpx.CodecGetFrame(d.ctx, &iter)
	if img == nil {
		return nil, 0, 0, nil
	}
	img.Deref()

	width, height = int(img.DW), int(img.DH)
	rgbaImg := img.ImageRGBA()
	// ImageRGBA の Stride は幅*4 とは限らないので詰め直す
	rgba = make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		row := rgbaImg.Pix[y*rgbaImg.Stride : y*rgbaImg.Stride+width*4]
		copy(rgba[y*width*4:], row)
	}

	if reason := d.check.Check(rgba, width, height); reason != "" {
		logging.DebugLogPeriodic("vpx-corrupt", 2*time.Second, "Dropping corrupt frame: %s (keyframe=%v)\n", reason, keyframe)
		if d.check.NeedsKeyframe() {
			d.seenKeyframe = false
		}
		return nil, 0, 0, nil
	}
	return rgba, width, height, nil
}

func (d *vp8Decoder) Close() {
	if d.ctx != nil {
		vpx.CodecDestroy(d.ctx)
		d.ctx = nil
	}
}
