// Package sessionbridge converts the authenticated browser's native cookie dump
// into the transport-neutral SessionState handed to the fetch workers.
package sessionbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/census/api/schemas"
)

// Export normalizes a native cookie dump: a JSON array of cookie objects as
// produced by the browser backend. Only name, value, domain and path are
// required. expires (or the older expiry key), secure and httpOnly are copied
// only when the source carries them; a null optional value counts as absent.
// A negative expiry, or session set to true, marks a session cookie and leaves
// Expires unset. Any malformed input, including an optional field of the wrong
// JSON type, yields ErrSessionExportFailure.
func Export(raw []byte) (*schemas.SessionState, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty cookie dump", schemas.ErrSessionExportFailure)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: cookie dump is not a JSON array: %v", schemas.ErrSessionExportFailure, err)
	}

	state := &schemas.SessionState{Records: make([]schemas.SessionRecord, 0, len(entries))}
	for i, entry := range entries {
		rec, err := normalize(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: cookie %d: %v", schemas.ErrSessionExportFailure, i, err)
		}
		state.Records = append(state.Records, rec)
	}
	return state, nil
}

func normalize(entry json.RawMessage) (schemas.SessionRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return schemas.SessionRecord{}, fmt.Errorf("entry is not an object")
	}

	var rec schemas.SessionRecord
	for key, dst := range map[string]*string{
		"name":   &rec.Name,
		"value":  &rec.Value,
		"domain": &rec.Domain,
		"path":   &rec.Path,
	} {
		v, ok := fields[key]
		if !ok {
			return schemas.SessionRecord{}, fmt.Errorf("missing required field %q", key)
		}
		if len(v) == 0 || v[0] != '"' || json.Unmarshal(v, dst) != nil {
			return schemas.SessionRecord{}, fmt.Errorf("field %q is not a string", key)
		}
	}

	expires, ok, err := expiry(fields)
	if err != nil {
		return schemas.SessionRecord{}, err
	}
	if ok {
		rec.Expires = &expires
	}
	for key, dst := range map[string]**bool{
		"secure":   &rec.Secure,
		"httpOnly": &rec.HTTPOnly,
	} {
		v, ok, err := optionalBool(fields, key)
		if err != nil {
			return schemas.SessionRecord{}, err
		}
		if ok {
			*dst = &v
		}
	}
	return rec, nil
}

// expiry reads expires or expiry. Session cookies, flagged explicitly or
// carrying a negative timestamp, have no expiry.
func expiry(fields map[string]json.RawMessage) (float64, bool, error) {
	session, _, err := optionalBool(fields, "session")
	if err != nil {
		return 0, false, err
	}
	for _, key := range []string{"expires", "expiry"} {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, false, fmt.Errorf("field %q is not a number", key)
		}
		if session || v < 0 {
			return 0, false, nil
		}
		return v, true, nil
	}
	return 0, false, nil
}

func optionalBool(fields map[string]json.RawMessage, key string) (bool, bool, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return false, false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false, fmt.Errorf("field %q is not a boolean", key)
	}
	return v, true, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Encode writes state in its transport form.
func Encode(w io.Writer, state *schemas.SessionState) error {
	if state == nil {
		state = &schemas.SessionState{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return nil
}

// WriteFile encodes state to path, creating the parent directory. The file is
// readable by the owner only since it holds live session cookies.
func WriteFile(path string, state *schemas.SessionState) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Encode(f, state)
}

// Decode reads a state written by Encode.
func Decode(r io.Reader) (*schemas.SessionState, error) {
	var state schemas.SessionState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("%w: failed to decode session state: %v", schemas.ErrSessionExportFailure, err)
	}
	return &state, nil
}

// Clone returns a deep copy, so each consumer gets records nobody else can
// modify.
func Clone(state *schemas.SessionState) *schemas.SessionState {
	if state == nil {
		return nil
	}
	out := &schemas.SessionState{Records: make([]schemas.SessionRecord, len(state.Records))}
	for i, rec := range state.Records {
		out.Records[i] = rec
		if rec.Expires != nil {
			v := *rec.Expires
			out.Records[i].Expires = &v
		}
		if rec.Secure != nil {
			v := *rec.Secure
			out.Records[i].Secure = &v
		}
		if rec.HTTPOnly != nil {
			v := *rec.HTTPOnly
			out.Records[i].HTTPOnly = &v
		}
	}
	return out
}
