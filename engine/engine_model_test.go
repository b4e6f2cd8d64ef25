package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// refEntry mirrors what the Engine should know about one path, used as the
// ground truth the Engine is checked against after every operation.
type refEntry struct {
	version uint32
	payload []byte
}

// TestEngineModelAgainstReferenceMap drives a deterministic pseudo-random
// sequence of Add/Update/Delete/Read operations over a small keyspace and
// checks every observable result against a plain Go map, following
// pkg/slotcache's "compare the real implementation against an in-memory
// reference model" test pattern.
func TestEngineModelAgainstReferenceMap(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "model", false, false)

	ref := make(map[string]*refEntry)
	rng := rand.New(rand.NewSource(1))

	const keyspace = 12

	for step := 0; step < 2000; step++ {
		path := fmt.Sprintf("/k/%02d", rng.Intn(keyspace))

		switch rng.Intn(4) {
		case 0: // add
			payload := randPayload(rng)

			err := e.Add(path, payload, uint32(rng.Intn(16)))
			if _, exists := ref[path]; exists {
				require.ErrorIs(t, err, ErrAlreadyExists)
				continue
			}

			require.NoError(t, err)
			ref[path] = &refEntry{version: 1, payload: payload}

		case 1: // update
			payload := randPayload(rng)

			v, err := e.Update(path, payload)
			entry, exists := ref[path]
			if !exists {
				require.ErrorIs(t, err, ErrNotFound)
				continue
			}

			require.NoError(t, err)
			entry.version++
			entry.payload = payload
			require.Equal(t, entry.version, v)

		case 2: // delete
			err := e.Delete(path)
			_, exists := ref[path]

			if !exists {
				require.ErrorIs(t, err, ErrNotFound)
				continue
			}

			require.NoError(t, err)
			delete(ref, path)

		case 3: // read with the version the model thinks is current
			entry, exists := ref[path]

			gotVer, gotData, hasNew, err := e.Read(path, lastSeenVersion(entry))
			if !exists {
				require.ErrorIs(t, err, ErrNotFound)
				continue
			}

			require.NoError(t, err)
			require.False(t, hasNew, "model already has the latest version")
			require.Zero(t, gotData)
			_ = gotVer
		}
	}

	for path, entry := range ref {
		_, data, _, err := e.Read(path, 0)
		require.NoError(t, err)
		require.Equal(t, entry.payload, data)
	}

	report, err := e.Validate()
	require.NoError(t, err)
	require.Empty(t, report.SkippedSlots)
	require.Equal(t, len(ref), report.ObjectCount)
}

func lastSeenVersion(e *refEntry) uint32 {
	if e == nil {
		return 0
	}

	return e.version
}

func randPayload(rng *rand.Rand) []byte {
	n := rng.Intn(40)
	buf := make([]byte, n)
	rng.Read(buf)

	return buf
}
