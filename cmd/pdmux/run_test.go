package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type closer struct {
	err    error
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestCloseLogged(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	ok := &closer{}
	closeLogged(ok, "hardware")
	if !ok.closed || len(hook.AllEntries()) != 0 {
		t.Fatalf("closed=%v entries=%d", ok.closed, len(hook.AllEntries()))
	}

	bad := &closer{err: errors.New("bus busy")}
	closeLogged(bad, "hardware")
	e := hook.LastEntry()
	if e == nil || e.Level != logrus.WarnLevel || e.Message != "close hardware" || e.Data[logrus.ErrorKey] != bad.err {
		t.Fatalf("entry = %+v", e)
	}
}
