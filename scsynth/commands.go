package scsynth

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
)

// Server command addresses. The address strings and argument shapes are a
// contract with scsynth.
const (
	AddrSynthNew     = "/s_new"
	AddrNodeFree     = "/n_free"
	AddrNodeSet      = "/n_set"
	AddrNodeEnd      = "/n_end"
	AddrNotify       = "/notify"
	AddrBufAlloc     = "/b_alloc"
	AddrBufAllocRead = "/b_allocRead"
	AddrBufFree      = "/b_free"
	AddrDefRecv      = "/d_recv"
	AddrDone         = "/done"
	AddrFail         = "/fail"
)

// Add actions for /s_new.
const (
	AddToHead int32 = 0
	AddToTail int32 = 1
)

// DefaultGroup is the root node group of the server.
const DefaultGroup int32 = 0

// ParamPair is one name/value control setting of a synth node.
type ParamPair struct {
	Name  string
	Value float32
}

// SynthNew builds an /s_new message creating an instance of a synthdef with
// the given node ID, placed with addAction relative to target, with initial
// control values.
func SynthNew(synthDef string, nodeID, addAction, target int32, params []ParamPair) osc.Message {
	args := osc.Arguments{
		osc.String(synthDef),
		osc.Int(nodeID),
		osc.Int(addAction),
		osc.Int(target),
	}
	for _, p := range params {
		args = append(args, osc.String(p.Name), osc.Float(p.Value))
	}
	return osc.Message{Address: AddrSynthNew, Arguments: args}
}

// NodeFree builds an /n_free message destroying a node.
func NodeFree(nodeID int32) osc.Message {
	return osc.Message{Address: AddrNodeFree, Arguments: osc.Arguments{osc.Int(nodeID)}}
}

// NodeSet builds an /n_set message updating control values on a live node.
func NodeSet(nodeID int32, params []ParamPair) osc.Message {
	args := osc.Arguments{osc.Int(nodeID)}
	for _, p := range params {
		args = append(args, osc.String(p.Name), osc.Float(p.Value))
	}
	return osc.Message{Address: AddrNodeSet, Arguments: args}
}

// BufAlloc builds a /b_alloc message allocating an empty buffer.
func BufAlloc(bufnum, frames, channels int32) osc.Message {
	return osc.Message{Address: AddrBufAlloc, Arguments: osc.Arguments{
		osc.Int(bufnum), osc.Int(frames), osc.Int(channels),
	}}
}

// BufAllocRead builds a /b_allocRead message; the server allocates a buffer
// and reads the sound file into it. frames 0 reads the whole file.
func BufAllocRead(bufnum int32, path string, start, frames int32) osc.Message {
	return osc.Message{Address: AddrBufAllocRead, Arguments: osc.Arguments{
		osc.Int(bufnum), osc.String(path), osc.Int(start), osc.Int(frames),
	}}
}

// BufFree builds a /b_free message releasing a buffer.
func BufFree(bufnum int32) osc.Message {
	return osc.Message{Address: AddrBufFree, Arguments: osc.Arguments{osc.Int(bufnum)}}
}

// DefRecv builds a /d_recv message uploading compiled synthdef data.
func DefRecv(data []byte) osc.Message {
	return osc.Message{Address: AddrDefRecv, Arguments: osc.Arguments{osc.Blob(data)}}
}

// Notify builds a /notify message; the server only reports node lifecycle
// events to clients that have asked for them.
func Notify(on bool) osc.Message {
	flag := int32(0)
	if on {
		flag = 1
	}
	return osc.Message{Address: AddrNotify, Arguments: osc.Arguments{osc.Int(flag)}}
}

// LoadSynthDefs uploads every compiled synthdef (*.scsyndef) in a directory.
func (c *Client) LoadSynthDefs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "reading synthdef directory")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".scsyndef") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return errors.Wrapf(err, "reading synthdef %v", e.Name())
		}
		if err := c.SendImmediate(DefRecv(data)); err != nil {
			return err
		}
	}
	return nil
}
