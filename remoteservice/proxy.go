package remoteservice

import (
	"github.com/pkg/errors"

	"mini-binder/client"
	"mini-binder/rect"
)

// Proxy is the typed client side of IRemoteService.
type Proxy struct {
	c *client.Client
}

// NewProxy wraps c, which must have been created with Descriptor.
func NewProxy(c *client.Client) *Proxy {
	return &Proxy{c: c}
}

func (p *Proxy) GetPid() (int32, error) {
	res, err := p.c.Invoke("getPid")
	if err != nil {
		return 0, err
	}
	pid, ok := res.Value.(int32)
	if !ok {
		return 0, errors.Errorf("getPid returned %T", res.Value)
	}
	return pid, nil
}

func (p *Proxy) BasicTypes(anInt int32, aLong int64, aBoolean bool, aFloat float32, aDouble float64, aString string) error {
	_, err := p.c.Invoke("basicTypes", anInt, aLong, aBoolean, aFloat, aDouble, aString)
	return err
}

// AddRectInOut sends r and returns the value the service left in it.
func (p *Proxy) AddRectInOut(r rect.Rect) (rect.Rect, error) {
	res, err := p.c.Invoke("addRectInOut", r)
	if err != nil {
		return rect.Rect{}, err
	}
	if len(res.Out) != 1 {
		return rect.Rect{}, errors.Errorf("addRectInOut returned %d in-out values", len(res.Out))
	}
	out, ok := res.Out[0].(rect.Rect)
	if !ok {
		return rect.Rect{}, errors.Errorf("addRectInOut returned %T", res.Out[0])
	}
	return out, nil
}
