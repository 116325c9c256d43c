package doctor

import (
	"errors"
	"strings"
	"testing"
)

func stubbedBDCheck(path string, pathErr error, version string, versionErr error) *BDBinaryCheck {
	c := NewBDBinaryCheck()
	c.lookPath = func(string) (string, error) { return path, pathErr }
	c.version = func(string) (string, error) { return version, versionErr }
	return c
}

func TestBDBinaryMissing(t *testing.T) {
	c := stubbedBDCheck("", errors.New("not found"), "", nil)
	res := c.Run(testContext(t))
	if res.Status != StatusError {
		t.Errorf("Status = %v, want error", res.Status)
	}
	if res.FixHint == "" {
		t.Error("missing binary should carry an install hint")
	}
}

func TestBDBinaryTooOld(t *testing.T) {
	c := stubbedBDCheck("/usr/bin/bd", nil, "bd version 0.3.1\n", nil)
	res := c.Run(testContext(t))
	if res.Status != StatusError {
		t.Errorf("Status = %v, want error for 0.3.1 < %s", res.Status, MinBDVersion)
	}
	if !strings.Contains(res.Message, "0.3.1") {
		t.Errorf("Message = %q, want the found version named", res.Message)
	}
}

func TestBDBinaryCurrent(t *testing.T) {
	c := stubbedBDCheck("/usr/bin/bd", nil, "bd version 1.2.0 (linux/amd64)\n", nil)
	res := c.Run(testContext(t))
	if res.Status != StatusOK {
		t.Errorf("Status = %v, message %q, want OK", res.Status, res.Message)
	}
}

func TestBDVersionUnparseable(t *testing.T) {
	c := stubbedBDCheck("/usr/bin/bd", nil, "something weird\n", nil)
	res := c.Run(testContext(t))
	if res.Status != StatusWarning {
		t.Errorf("Status = %v, want warning on unparseable version", res.Status)
	}
}
