package engine

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, fsys FS, dir, name string, caseSensitive, recoverMode bool) (*Engine, bool) {
	t.Helper()

	e, created, err := Open(fsys, dir, name, caseSensitive, recoverMode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e, created
}

// S1 — create, write, read-back, close, reopen.
func TestScenarioS1CreateWriteReadbackReopen(t *testing.T) {
	fsys := newMemFS()

	e, created := openTest(t, fsys, "/store", "test1", false, false)
	require.True(t, created)

	payload := []byte("area:(10,10,512,480)")
	require.NoError(t, e.Add("/LastPos/Main", payload, 0))

	gotVer, gotData, hasNew, err := e.Read("/LastPos/Main", 0)
	require.NoError(t, err)
	require.True(t, hasNew)
	require.EqualValues(t, 1, gotVer)
	require.Equal(t, payload, gotData)

	require.NoError(t, e.Close())

	e2, created2 := openTest(t, fsys, "/store", "test1", false, false)
	require.False(t, created2)

	gotVer2, gotData2, hasNew2, err := e2.Read("/LastPos/Main", 0)
	require.NoError(t, err)
	require.True(t, hasNew2)
	require.EqualValues(t, 1, gotVer2)
	require.Equal(t, payload, gotData2)
}

// S2 — version gating.
func TestScenarioS2VersionGating(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.NoError(t, e.Add("/LastPos/Main", []byte("area:(10,10,512,480)"), 0))

	_, _, hasNew, err := e.Read("/LastPos/Main", 1)
	require.NoError(t, err)
	require.False(t, hasNew)

	newVer, err := e.Update("/LastPos/Main", []byte("area:(24,34,512,480)"))
	require.NoError(t, err)
	require.EqualValues(t, 2, newVer)

	gotVer, gotData, hasNew, err := e.Read("/LastPos/Main", 1)
	require.NoError(t, err)
	require.True(t, hasNew)
	require.EqualValues(t, 2, gotVer)
	require.Equal(t, []byte("area:(24,34,512,480)"), gotData)
}

// S3 — reserve amortization: the slot offset must not change across
// updates that fit within the reserved headroom, and must change once it
// doesn't.
func TestScenarioS3ReserveAmortization(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.NoError(t, e.Add("/S3/Str", []byte("1"), 32))

	desc, ok := e.dir.lookup("/s3/str")
	require.True(t, ok)
	initialOffset := desc.offset

	payload := "1"

	for i := 0; i < 32; i++ {
		payload += "x"
		_, err := e.Update("/S3/Str", []byte(payload))
		require.NoError(t, err)

		desc, ok := e.dir.lookup("/s3/str")
		require.True(t, ok)
		require.Equalf(t, initialOffset, desc.offset, "update %d relocated within reserve", i)
	}

	// The next update exceeds the original capacity and must relocate.
	payload += "x"
	_, err := e.Update("/S3/Str", []byte(payload))
	require.NoError(t, err)

	desc, ok = e.dir.lookup("/s3/str")
	require.True(t, ok)
	require.NotEqual(t, initialOffset, desc.offset)
}

// S4 — scope enumeration.
func TestScenarioS4ScopeEnumeration(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	for _, p := range []string{"/A/x", "/A/y", "/A/B/z", "/A/B/C/w"} {
		require.NoError(t, e.Add(p, []byte(p), 0))
	}

	keys, err := e.KeysInScope("/A")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, keys)

	subs, err := e.SubscopesInScope("/A")
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, subs)

	all, err := e.AllObjectsUnder("/A")
	require.NoError(t, err)
	require.Equal(t, []string{"/a/b/c/w", "/a/b/z", "/a/x", "/a/y"}, all)

	found, err := e.FindNameUnder("z", "/")
	require.NoError(t, err)
	require.Equal(t, []string{"/a/b/z"}, found)
}

// S5 — delete collapses and the space is reused: file growth after a
// delete-half/add-half cycle must stay bounded rather than doubling. The
// scenario is scaled down from the spec's 512/300-byte example for test
// speed; the property under test (reuse, not growth) does not depend on N.
func TestScenarioS5DeleteCollapsesSpaceIsReused(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	const n = 64

	payload := bytes.Repeat([]byte("x"), 300)

	for i := 0; i < n; i++ {
		require.NoError(t, e.Add(fmt.Sprintf("/Bulk/Entry%03d", i), payload, 0))
	}

	sizeBeforeDelete, err := e.bf.size()
	require.NoError(t, err)

	for i := 0; i < n; i += 2 {
		require.NoError(t, e.Delete(fmt.Sprintf("/Bulk/Entry%03d", i)))
	}

	for i := 0; i < n; i += 2 {
		require.NoError(t, e.Add(fmt.Sprintf("/Bulk/New%03d", i), payload, 0))
	}

	report, err := e.Validate()
	require.NoError(t, err)
	require.Zero(t, report.SkippedSlots)

	sizeAfter, err := e.bf.size()
	require.NoError(t, err)
	require.LessOrEqual(t, sizeAfter, sizeBeforeDelete+int64(minSlotSize*4),
		"file grew materially after delete/reuse cycle")
}

// S6 — recovery after structural scan: damaging one slot's magic byte
// makes a normal Open fail with Corrupt, while a recover-mode Open skips
// only the damaged slot and keeps everything else intact.
func TestScenarioS6RecoveryAfterStructuralScan(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.NoError(t, e.Add("/ok/one", []byte("keep-me"), 0))
	require.NoError(t, e.Add("/ok/two", []byte("keep-me-too"), 0))

	desc, ok := e.dir.lookup("/ok/one")
	require.True(t, ok)
	damagedOffset := absOffset(desc.offset)

	require.NoError(t, e.Close())

	fsys.corruptByte("/store/test1.pst", damagedOffset, 0)

	_, _, err := Open(fsys, "/store", "test1", false, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCorrupt)

	e2, created, err := Open(fsys, "/store", "test1", false, true)
	require.NoError(t, err)
	require.False(t, created)
	defer e2.Close()

	report := e2.LastOpenReport()
	require.Len(t, report.SkippedSlots, 1)

	exists, _, err := e2.KeyExists("/ok/one")
	require.NoError(t, err)
	require.False(t, exists)

	exists, ver, err := e2.KeyExists("/ok/two")
	require.NoError(t, err)
	require.True(t, exists)
	require.EqualValues(t, 1, ver)
}

func TestDeleteNotFound(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.ErrorIs(t, e.Delete("/missing"), ErrNotFound)
}

func TestAddAlreadyExists(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.NoError(t, e.Add("/p", []byte("v"), 0))
	require.ErrorIs(t, e.Add("/p", []byte("v2"), 0), ErrAlreadyExists)
}

func TestAddOrUpdate(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	created, ver, err := e.AddOrUpdate("/p", []byte("v1"), 0)
	require.NoError(t, err)
	require.True(t, created)
	require.EqualValues(t, 1, ver)

	created, ver, err = e.AddOrUpdate("/p", []byte("v2"), 0)
	require.NoError(t, err)
	require.False(t, created)
	require.EqualValues(t, 2, ver)
}

func TestDeleteScope(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	for _, p := range []string{"/A/x", "/A/y", "/A/B/z", "/Other/q"} {
		require.NoError(t, e.Add(p, []byte(p), 0))
	}

	n, err := e.DeleteScope("/A")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	all, err := e.AllObjectsUnder("/")
	require.NoError(t, err)
	require.Equal(t, []string{"/other/q"}, all)
}

func TestReadFullThrowIfNot(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	res, _, _, err := e.ReadFull("/missing", 0, false)
	require.NoError(t, err)
	require.Equal(t, LoadNotFound, res)

	_, _, _, err = e.ReadFull("/missing", 0, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOperationsRequireReady(t *testing.T) {
	fsys := newMemFS()
	e, created, err := Open(fsys, "/store", "test1", false, false)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, e.Close())

	require.ErrorIs(t, e.Add("/p", []byte("v"), 0), ErrNotReady)
	require.NoError(t, e.Close()) // idempotent
}

func TestBackupProducesIndependentCopy(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	require.NoError(t, e.Add("/p", []byte("v"), 0))

	_, ok := e.LastBackupTime()
	require.False(t, ok)

	dst, err := e.Backup()
	require.NoError(t, err)

	_, ok = e.LastBackupTime()
	require.True(t, ok)

	exists, err := fsys.Exists(dst)
	require.NoError(t, err)
	require.True(t, exists)
}

// §8.2 property 8: N goroutines each operating on disjoint keys must leave
// the store structurally sound, with every thread's final write readable.
func TestConcurrentDisjointKeys(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", false, false)

	const n = 16

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			path := fmt.Sprintf("/Thread/%02d", i)
			require.NoError(t, e.Add(path, []byte{byte(i)}, 4))

			for v := 1; v < 5; v++ {
				_, err := e.Update(path, []byte{byte(i), byte(v)})
				require.NoError(t, err)
			}
		}(i)
	}

	wg.Wait()

	report, err := e.Validate()
	require.NoError(t, err)
	require.Empty(t, report.SkippedSlots)
	require.Equal(t, n, report.ObjectCount)

	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/Thread/%02d", i)

		_, data, _, err := e.Read(path, 0)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i), 4}, data)
	}
}

func TestCaseSensitiveModeDistinguishesKeys(t *testing.T) {
	fsys := newMemFS()
	e, _ := openTest(t, fsys, "/store", "test1", true, false)

	require.NoError(t, e.Add("/A", []byte("upper"), 0))
	require.NoError(t, e.Add("/a", []byte("lower"), 0))

	_, data, _, err := e.Read("/A", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("upper"), data)

	_, data, _, err = e.Read("/a", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("lower"), data)
}
