// Package syncq keeps requests the CLI could not deliver so they can be
// replayed later with their original idempotency keys.
package syncq

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".bsim")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	// The file is indented; bodies come back in the compact form they were
	// queued in.
	for i := range out {
		if len(out[i].Body) == 0 {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, out[i].Body); err != nil {
			return nil, err
		}
		out[i].Body = buf.Bytes()
	}
	return out, nil
}

// Save replaces the queue. The file is written beside the old one and
// renamed over it.
func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []Command{}
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Drain sends every queued command through send, in order. Commands send
// accepts or rejects permanently are dropped; the first one that returns
// retry=true stops the drain and it and everything after stay queued.
func Drain(send func(Command) (retry bool, err error)) (sent int, errs []error, err error) {
	commands, err := Load()
	if err != nil {
		return 0, nil, err
	}
	for i, cmd := range commands {
		retry, sendErr := send(cmd)
		if sendErr != nil && retry {
			return sent, append(errs, sendErr), Save(commands[i:])
		}
		if sendErr != nil {
			errs = append(errs, sendErr)
		} else {
			sent++
		}
	}
	return sent, errs, Save(nil)
}
