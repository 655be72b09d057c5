// Package eventlog implements the append-only NDJSON event log, the
// system's source of truth. Two streams exist per build:
// events/inputs.log and events/artefacts.log. Appends are serialized per
// file within a process via a mutex; manifests are a replay-
// derived, discardable cache over these logs, never the other way around.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/jmylchreest/movieforge/internal/storage"
)

const (
	inputsLogPath    = "events/inputs.log"
	artefactsLogPath = "events/artefacts.log"
)

// Log is the append-only event log for one storage root. All operations
// take an explicit movieId so a single Log value serves every build.
type Log struct {
	storage *storage.Context

	mu        sync.Map // movieId+"\x00"+path -> *sync.Mutex, one per (movieId, file) pair
}

// New constructs an event log writer/reader over storage.
func New(s *storage.Context) *Log {
	return &Log{storage: s}
}

func (l *Log) lockFor(movieId, path string) *sync.Mutex {
	key := movieId + "\x00" + path
	actual, _ := l.mu.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// AppendInput appends exactly one input event record.
func (l *Log) AppendInput(ctx context.Context, movieId string, event InputEvent) error {
	event.Kind = KindInput
	return l.appendLine(ctx, movieId, inputsLogPath, event)
}

// AppendArtefact appends exactly one artifact event record.
func (l *Log) AppendArtefact(ctx context.Context, movieId string, event ArtefactEvent) error {
	event.Kind = KindArtefact
	return l.appendLine(ctx, movieId, artefactsLogPath, event)
}

func (l *Log) appendLine(ctx context.Context, movieId, path string, record any) error {
	mu := l.lockFor(movieId, path)
	mu.Lock()
	defer mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("eventlog: encoding record: %w", err)
	}

	existing, err := l.readExisting(ctx, movieId, path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	buf.Write(line)
	buf.WriteByte('\n')

	if err := l.storage.Write(ctx, movieId, buf.Bytes(), storage.WriteOptions{MimeType: "application/x-ndjson"}, splitPath(path)...); err != nil {
		return fmt.Errorf("eventlog: appending to %s: %w", path, err)
	}
	return nil
}

func (l *Log) readExisting(ctx context.Context, movieId, path string) ([]byte, error) {
	data, err := l.storage.ReadToBytes(ctx, movieId, splitPath(path)...)
	if err == nil {
		return data, nil
	}
	if storage.IsNotFound(err) {
		return nil, nil
	}
	return nil, fmt.Errorf("eventlog: reading %s: %w", path, err)
}

// StreamInputs returns a restartable, lazy iterator over every input event
// for movieId, in insertion (append) order.
func (l *Log) StreamInputs(ctx context.Context, movieId string) iter.Seq2[InputEvent, error] {
	return func(yield func(InputEvent, error) bool) {
		streamNDJSON(ctx, l, movieId, inputsLogPath, yield)
	}
}

// StreamArtefacts returns a restartable, lazy iterator over every artifact
// event for movieId, in insertion (append) order.
func (l *Log) StreamArtefacts(ctx context.Context, movieId string) iter.Seq2[ArtefactEvent, error] {
	return func(yield func(ArtefactEvent, error) bool) {
		streamNDJSON(ctx, l, movieId, artefactsLogPath, yield)
	}
}

func streamNDJSON[T any](ctx context.Context, l *Log, movieId, path string, yield func(T, error) bool) {
	data, err := l.readExisting(ctx, movieId, path)
	if err != nil {
		var zero T
		yield(zero, err)
		return
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			var zero T
			if !yield(zero, fmt.Errorf("eventlog: decoding record in %s: %w", path, err)) {
				return
			}
			continue
		}
		if !yield(record, nil) {
			return
		}
	}
}

func splitPath(p string) []string {
	return []string{p}
}
