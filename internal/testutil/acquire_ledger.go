package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/andrebq/doorman/ledger"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// AcquireLedger opens a writable ledger inside a temporary directory. The
// returned cleanup closes the ledger and removes the directory.
func AcquireLedger(ctx context.Context, t TestLog, name string) (*ledger.Store, func()) {
	dir, err := os.MkdirTemp("", "doorman-tests")
	if err != nil {
		t.Fatal(err)
	}
	abspath := filepath.Join(dir, name, "ledger.db")
	store, err := ledger.Open(ctx, abspath, true)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return store, func() {
		err := store.Close()
		if err != nil {
			t.Log("unable to close ledger", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
