// Package decode streams the keyed entries of a JSON document without
// buffering the whole document in memory.
//
// The source document is an object whose keys are opaque identifiers and
// whose values are the records to import. A dotted node path ("$", "",
// "data.users", ...) selects which object inside the document is enumerated;
// the default is the document root. Entries are emitted one at a time over a
// channel in document order.
package decode

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync/atomic"

	gojson "github.com/goccy/go-json"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/importerrors"
)

// Entry is one (key, value) pair found at the configured root node.
type Entry struct {
	Key   string
	Value interface{}
}

// Stream carries decoded entries and at most one terminal error. Entries is
// closed when the document is exhausted, the context is canceled, or an
// error occurred; Errors is closed right after.
type Stream struct {
	Entries <-chan Entry
	Errors  <-chan error
}

// StreamDecoder consumes a JSON resource incrementally. A decoder is single
// pass: one Read per stream.
type StreamDecoder struct {
	rc          io.ReadCloser
	reader      io.Reader
	node        string
	streamDepth int
	entriesRead int64
}

// NewStreamDecoder wraps rc in a buffered reader. The decoder owns rc and
// closes it when the stream finishes or fails. bufferSize and streamDepth
// values <= 0 get defaults.
func NewStreamDecoder(rc io.ReadCloser, node string, bufferSize, streamDepth int) *StreamDecoder {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	if streamDepth <= 0 {
		streamDepth = 100
	}
	return &StreamDecoder{
		rc:          rc,
		reader:      bufio.NewReaderSize(rc, bufferSize),
		node:        node,
		streamDepth: streamDepth,
	}
}

// EntriesRead returns the number of entries emitted so far.
func (d *StreamDecoder) EntriesRead() int64 {
	return atomic.LoadInt64(&d.entriesRead)
}

// Read starts decoding in the background and returns the entry stream.
func (d *StreamDecoder) Read(ctx context.Context) *Stream {
	entryChan := make(chan Entry, d.streamDepth)
	errorChan := make(chan error, 1)

	go d.readEntries(ctx, entryChan, errorChan)

	return &Stream{
		Entries: entryChan,
		Errors:  errorChan,
	}
}

func (d *StreamDecoder) readEntries(ctx context.Context, entryChan chan<- Entry, errorChan chan<- error) {
	defer close(errorChan)
	defer close(entryChan)
	defer d.rc.Close()

	dec := gojson.NewDecoder(d.reader)

	if err := d.descend(dec, splitNode(d.node)); err != nil {
		errorChan <- err
		return
	}

	for dec.More() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		key, err := readKey(dec)
		if err != nil {
			errorChan <- err
			return
		}

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			errorChan <- importerrors.Wrap(err, importerrors.ErrorTypeInput, "malformed JSON value").
				WithDetail("key", key)
			return
		}

		select {
		case entryChan <- Entry{Key: key, Value: value}:
			atomic.AddInt64(&d.entriesRead, 1)
		case <-ctx.Done():
			return
		}
	}
}

// descend consumes tokens until the decoder is positioned inside the object
// named by the node path, skipping sibling subtrees without materializing
// them.
func (d *StreamDecoder) descend(dec *gojson.Decoder, segments []string) error {
	if err := expectObjectStart(dec); err != nil {
		return err
	}

	for _, segment := range segments {
		found := false
		for dec.More() {
			key, err := readKey(dec)
			if err != nil {
				return err
			}
			if key == segment {
				if err := expectObjectStart(dec); err != nil {
					return err
				}
				found = true
				break
			}
			// Sibling subtree: consume without keeping it.
			var raw gojson.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return importerrors.Wrap(err, importerrors.ErrorTypeInput, "malformed JSON value").
					WithDetail("key", key)
			}
		}
		if !found {
			return importerrors.New(importerrors.ErrorTypeInput, "root node not found in document").
				WithDetail("node", d.node).
				WithDetail("segment", segment)
		}
	}

	return nil
}

func expectObjectStart(dec *gojson.Decoder) error {
	token, err := dec.Token()
	if err != nil {
		return importerrors.Wrap(err, importerrors.ErrorTypeInput, "malformed JSON document")
	}
	if delim, ok := token.(gojson.Delim); !ok || delim != '{' {
		return importerrors.New(importerrors.ErrorTypeInput, "expected JSON object").
			WithDetail("token", token)
	}
	return nil
}

func readKey(dec *gojson.Decoder) (string, error) {
	token, err := dec.Token()
	if err != nil {
		return "", importerrors.Wrap(err, importerrors.ErrorTypeInput, "malformed JSON key")
	}
	key, ok := token.(string)
	if !ok {
		return "", importerrors.New(importerrors.ErrorTypeInput, "expected string key").
			WithDetail("token", token)
	}
	return key, nil
}

// splitNode turns "$.data.users", "data.users", or "$" into path segments.
func splitNode(node string) []string {
	node = strings.TrimPrefix(node, "$")
	node = strings.Trim(node, ".")
	if node == "" {
		return nil
	}
	return strings.Split(node, ".")
}
