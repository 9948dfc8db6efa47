package markitclient

import (
	"context"
	"io"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/protocol"
	"github.com/zot/markit/internal/svc"
	"github.com/zot/markit/internal/view"
)

// Viewer mirrors the host's tree in a canvas. Inbound messages and user
// intents run on the viewer's queue, in arrival order.
type Viewer struct {
	config *config.Config
	conn   *Connection
	canvas *view.Canvas
	queue  *svc.Queue
}

// NewViewer creates a viewer sending intents through conn.
func NewViewer(cfg *config.Config, conn *Connection, opts view.Options) *Viewer {
	return &Viewer{
		config: cfg,
		conn:   conn,
		canvas: view.New(cfg, nil, conn, opts),
		queue:  svc.New(),
	}
}

// Run requests the snapshot and applies host messages until ctx is done or
// the connection closes. onChange runs on the queue after every applied
// message. Pending messages are applied before Run returns.
func (v *Viewer) Run(ctx context.Context, onChange func(*view.Canvas)) error {
	defer func() {
		v.queue.Do(func() {})
		v.queue.Close()
	}()
	if _, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.Start()
	}); err != nil {
		return err
	}
	return v.conn.Listen(ctx, func(msg protocol.Message) {
		v.queue.Post(func() {
			if err := v.canvas.Apply(msg); err != nil {
				v.config.Log(0, "view: %s: %v", msg.Action(), err)
				return
			}
			if onChange != nil {
				onChange(v.canvas)
			}
		})
	}, func(err error) {
		v.config.Log(0, "view: dropped frame: %v", err)
	})
}

// Refresh asks the host for a new snapshot, e.g. after labels changed.
func (v *Viewer) Refresh() error {
	_, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.Start()
	})
	return err
}

// Click activates a marker as a click on its node would.
func (v *Viewer) Click(id string) error {
	_, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.Click(id)
	})
	return err
}

// ClickOpen opens a marker's document without activating it.
func (v *Viewer) ClickOpen(id string) error {
	_, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.ClickOpen(id)
	})
	return err
}

// ClickRemove removes a marker as its remove button would.
func (v *Viewer) ClickRemove(id string) error {
	_, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.ClickRemove(id)
	})
	return err
}

// Render writes the canvas as SVG.
func (v *Viewer) Render(w io.Writer) error {
	_, err := svc.Call(v.queue, func() (struct{}, error) {
		return struct{}{}, v.canvas.RenderSVG(w)
	})
	return err
}

// Canvas returns the canvas. Use it only from onChange callbacks.
func (v *Viewer) Canvas() *view.Canvas {
	return v.canvas
}
