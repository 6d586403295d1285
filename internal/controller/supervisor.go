package controller

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

const supervisorPoll = 50 * time.Millisecond

// supervise watches the bus of one run until EOS, an error, or the run being
// released. Whether the run is still current is decided under mu, the lock
// Stop takes, right before anything is written to the log.
func (c *Controller) supervise(r *run) {
	bus := r.pipeline.GetPipelineBus()
	log := c.log.WithField("run_id", r.id)
	defer log.Debug("bus supervisor exited")

	for {
		msg := bus.TimedPop(supervisorPoll)
		if msg == nil {
			if !r.handle.Alive() {
				return
			}
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			c.mu.Lock()
			if c.cur == r {
				log.Info("end of stream")
				c.cfg.Log.Add("End of stream")
			}
			c.mu.Unlock()
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			rerr := NewRuntimeError(msg.Source(), gerr.Error(), gerr.DebugString())

			c.mu.Lock()
			if c.cur != r {
				c.mu.Unlock()
				return
			}
			c.cur = nil
			c.cfg.Log.Add("Error: %v", rerr.Err)
			c.mu.Unlock()

			log.WithFields(logrus.Fields{
				"source":   rerr.Source,
				"category": rerr.Category.String(),
				"debug":    rerr.Debug,
			}).Error("pipeline error")
			c.teardown(r)
			return

		case gst.MessageLatency:
			r.handle.With(func(p *gst.Pipeline) {
				ok := p.RecalculateLatency()
				logging.DebugLog("[supervisor] latency recalculated: %v\n", ok)
			})

		case gst.MessageWarning:
			gw := msg.ParseWarning()
			log.WithField("source", msg.Source()).WithField("debug", gw.DebugString()).Warnf("pipeline warning: %s", gw.Error())

		case gst.MessageStateChanged:
			if msg.Source() == r.pipeline.GetName() {
				old, cur := msg.ParseStateChanged()
				logging.DebugLog("[supervisor] pipeline state %v -> %v\n", old, cur)
			}

		default:
		}
	}
}
