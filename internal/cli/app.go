package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dovelchat/msgcache/internal/auth"
	"github.com/dovelchat/msgcache/internal/cache"
	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/config"
	"github.com/dovelchat/msgcache/internal/directory"
	"github.com/dovelchat/msgcache/internal/keystore"
	"github.com/dovelchat/msgcache/internal/logging"
	"github.com/dovelchat/msgcache/internal/metrics"
	"github.com/dovelchat/msgcache/internal/peerkeys"
	"github.com/dovelchat/msgcache/internal/retention"

	_ "modernc.org/sqlite"
)

// App wires the cache subsystem together for command-line use.
type App struct {
	config  *config.Config
	log     logging.Logger
	out     io.Writer
	db      *sql.DB
	store   *cache.Store
	keys    *keystore.KeyStore
	dir     *directory.Client
	peers   *peerkeys.Cache
	sweeper *retention.Manager
}

func NewApp(c *config.Config, log logging.Logger) (*App, error) {
	ctx := context.Background()

	db, err := cache.OpenDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		log.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	tokens := auth.NewExpiryGuard(auth.StaticProvider(os.Getenv("MSGCACHE_TOKEN")))
	dir := directory.NewClient(c.DirectoryBaseURL, tokens)

	secrets, err := selectSecretStore(os.Stdout)
	if err != nil {
		return nil, err
	}

	m := metrics.NewUnregistered()
	store := cache.NewStore(db, log)
	ks := keystore.New(secrets, log)
	peers := peerkeys.NewCache(dir, log)
	sweeper := retention.NewManager(c.CacheDir, c.RetentionMaxAge, c.RetentionInterval, nil, log, m)

	return &App{
		config:  c,
		log:     log,
		out:     os.Stdout,
		db:      db,
		store:   store,
		keys:    ks,
		dir:     dir,
		peers:   peers,
		sweeper: sweeper,
	}, nil
}

// selectSecretStore prefers the OS keyring; MSGCACHE_KEYFILE switches to an
// encrypted file store and prompts for its passphrase.
func selectSecretStore(w io.Writer) (keystore.SecretStore, error) {
	path := os.Getenv("MSGCACHE_KEYFILE")
	if path == "" {
		return keystore.NewKeyringStore("msgcache", "device-key"), nil
	}
	pass, err := GetPassword(w)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return keystore.NewFileStore(path, pass), nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// Run dispatches one subcommand and returns its error.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return nil
	}

	switch args[0] {
	case "stats":
		return a.cmdStats(ctx)
	case "sweep":
		return a.cmdSweep(ctx)
	case "publish-key":
		return a.cmdPublishKey(ctx)
	case "reset":
		return a.cmdReset(ctx)
	default:
		a.usage()
		return fmt.Errorf("%w: unknown command %q", common.ErrValidation, args[0])
	}
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "usage: msgcache <command>")
	fmt.Fprintln(a.out, "")
	fmt.Fprintln(a.out, "commands:")
	fmt.Fprintln(a.out, "  stats        show cached conversations and attachment disk usage")
	fmt.Fprintln(a.out, "  sweep        delete decrypted attachment files past the retention age")
	fmt.Fprintln(a.out, "  publish-key  upload this device's key to the directory service")
	fmt.Fprintln(a.out, "  reset        wipe the device key and all cached data")
}

func (a *App) cmdStats(ctx context.Context) error {
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		return err
	}
	s, err := a.sweeper.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tMESSAGES\tLAST SYNC")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", c.ConversationID, c.TotalCached, c.LastSyncTime.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\nattachment cache: %d files, %d bytes\n", s.TotalFiles, s.TotalSize)
	if s.TotalFiles > 0 {
		fmt.Fprintf(a.out, "oldest: %s, newest: %s\n",
			s.OldestFile.Format("2006-01-02 15:04:05"), s.NewestFile.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (a *App) cmdSweep(ctx context.Context) error {
	res, err := a.sweeper.Sweep(ctx, a.config.RetentionMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "scanned %d files, deleted %d, freed %d bytes\n",
		res.ScannedFiles, res.DeletedFiles, res.FreedBytes)
	return nil
}

func (a *App) cmdPublishKey(ctx context.Context) error {
	material, err := a.keys.EnsureKey(ctx)
	if err != nil {
		return err
	}
	if err := a.keys.Publish(ctx, a.dir, a.peers); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "published key %s\n", common.KeyFingerprint(material))
	return nil
}

func (a *App) cmdReset(ctx context.Context) error {
	if err := a.keys.Reset(ctx); err != nil {
		return err
	}
	if err := a.store.ClearAll(ctx); err != nil {
		return err
	}
	if _, err := a.sweeper.Sweep(ctx, 0); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "device key and cached data removed")
	return nil
}
