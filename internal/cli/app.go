package cli

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/files"
	"github.com/rudransh-shrivastava/peer-drop/internal/node"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// openNode builds a node from config. The returned func closes the node and its database.
func (a *app) openNode(ctx context.Context, serverTLS, clientTLS *tls.Config) (*node.Node, func(), error) {
	downloadDir, err := files.ExpandHome(a.cfg.Storage.DownloadDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving download dir: %w", err)
	}

	gdb, err := a.openDB()
	if err != nil {
		return nil, nil, err
	}

	n, err := node.New(ctx, node.Options{
		DeviceName:   a.cfg.Device.Name,
		ServerTLS:    serverTLS,
		ClientTLS:    clientTLS,
		Fs:           afero.NewOsFs(),
		DownloadDir:  downloadDir,
		Records:      store.NewRecordStore(gdb),
		StallTimeout: a.cfg.Transfer.StallTimeout,
		MaxFileSize:  a.cfg.Transfer.MaxFileSize,
		Logger:       a.log,
	})
	if err != nil {
		_ = db.Close(gdb)
		return nil, nil, err
	}

	closeFn := func() {
		if err := n.Close(); err != nil {
			a.log.Debugf("Closing node: %v", err)
		}
		if err := db.Close(gdb); err != nil {
			a.log.Debugf("Closing database: %v", err)
		}
	}
	return n, closeFn, nil
}

func (a *app) openDB() (*gorm.DB, error) {
	path, err := a.dbPath()
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	return db.Open(path)
}
