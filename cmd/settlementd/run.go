package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"settlecraft.ai/internal/metrics"
	"settlecraft.ai/internal/persistence/archive"
	"settlecraft.ai/internal/persistence/indexdb"
	persistlog "settlecraft.ai/internal/persistence/log"
	"settlecraft.ai/internal/persistence/r2s3"
	"settlecraft.ai/internal/persistence/snapshot"
	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/catalogs"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/reconcile"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/settlement"
	"settlecraft.ai/internal/sim/territory"
	"settlecraft.ai/internal/sim/tuning"
	"settlecraft.ai/internal/transport/admin"
	"settlecraft.ai/internal/transport/observer"
)

var (
	configDir    string
	dataDir      string
	tuningPath   string
	seed         int64
	seedStations []string
	noResume     bool

	mirrorEndpoint string
	mirrorBucket   string
	mirrorPrefix   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the settlement simulation",
	Long: `Loads the catalogs from --config, resumes from the newest snapshot in
--data (unless --fresh) and steps the settlement until interrupted.

Serves on --addr:
  /metrics                         Prometheus metrics
  /admin/v1/state, /stations       station control (loopback only)
  /admin/v1/snapshot               write a snapshot now
  /admin/v1/observer/{bootstrap,ws} builder notices for observers`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&configDir, "config", "./configs", "directory with items/blocks/tags/recipes JSON and blueprints/")
	runCmd.Flags().StringVar(&dataDir, "data", "./data", "directory for snapshots, logs and the index database")
	runCmd.Flags().StringVar(&tuningPath, "tuning", "", "tuning YAML (default <config>/tuning.yaml)")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "executor random seed for a fresh run")
	runCmd.Flags().StringSliceVar(&seedStations, "station", nil, "station to place on a fresh run, x,y,z:blueprint[:rotation] (repeatable)")
	runCmd.Flags().BoolVar(&noResume, "fresh", false, "ignore existing snapshots")
	runCmd.Flags().StringVar(&mirrorEndpoint, "mirror-endpoint", "", "S3-compatible endpoint for off-site snapshot copies; keys from SETTLECRAFT_MIRROR_ACCESS_KEY_ID and SETTLECRAFT_MIRROR_SECRET_ACCESS_KEY")
	runCmd.Flags().StringVar(&mirrorBucket, "mirror-bucket", "", "bucket for snapshot copies")
	runCmd.Flags().StringVar(&mirrorPrefix, "mirror-prefix", "", "object key prefix for snapshot copies")
}

// openMirror returns nil when no endpoint is configured.
func openMirror(log *zap.Logger) (*r2s3.Mirror, error) {
	if mirrorEndpoint == "" {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Config{
		Endpoint:        mirrorEndpoint,
		Bucket:          mirrorBucket,
		AccessKeyID:     os.Getenv("SETTLECRAFT_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SETTLECRAFT_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}
	return r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{Prefix: mirrorPrefix, Logger: log}), nil
}

// hostSource lets the observer server exist before the host it reads.
type hostSource struct{ h *settlement.Host }

func (s *hostSource) Stations() []settlement.StationView { return s.h.Stations() }
func (s *hostSource) Now() uint64                        { return s.h.Now() }

// auditors fans block changes out to every sink.
type auditors []executor.Auditor

func (as auditors) AuditSetBlock(tick uint64, actor string, pos geom.Vec3i, from, to, reason string) {
	for _, a := range as {
		a.AuditSetBlock(tick, actor, pos, from, to, reason)
	}
}

func loadTuning(log *zap.Logger) (tuning.Tuning, error) {
	path := tuningPath
	if path == "" {
		path = filepath.Join(configDir, "tuning.yaml")
	}
	t, err := tuning.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no tuning file, using defaults", zap.String("path", path))
		return tuning.Defaults(), nil
	}
	return t, err
}

// catalogDigest folds the per-file digests into one value.
func catalogDigest(digests map[string]string) string {
	names := make([]string, 0, len(digests))
	for n := range digests {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		fmt.Fprintf(h, "%s=%s\n", n, digests[n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

type snapshotter struct {
	host   *settlement.Host
	world  *gridworld.World
	dir    string
	digest string
	seed   int64
	keep   int
	idx    *indexdb.SQLiteIndex
	rec    *metrics.Recorder
	log    *zap.Logger

	dataDir      string
	archiveEvery uint64
	mirror       *r2s3.Mirror

	mu sync.Mutex
}

// Write captures host and world at one tick and writes them to disk.
func (s *snapshotter) Write(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var ws gridworld.State
	set := s.host.ExportWith(func(uint64) { ws = s.world.Export() })
	if err := ctx.Err(); err != nil {
		return set.Tick, err
	}
	snap := snapshot.New(set, ws, s.digest, s.seed)
	path := filepath.Join(s.dir, snapshot.FileName(set.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return set.Tick, fmt.Errorf("write snapshot: %w", err)
	}
	s.rec.ObserveSnapshot(time.Since(start).Seconds())
	s.idx.RecordSnapshot(path, snap.Header)
	s.mirror.Enqueue(path)
	if epoch, archived, ok, err := archive.ArchiveSnapshot(s.dataDir, path, snap.Header, s.seed, s.archiveEvery); err != nil {
		s.log.Warn("snapshot archive", zap.Error(err))
	} else if ok {
		s.log.Info("snapshot archived", zap.Int("epoch", epoch), zap.String("path", archived))
		s.mirror.Enqueue(archived)
	}
	if s.keep > 0 {
		removed, err := snapshot.Prune(s.dir, s.keep)
		if err != nil {
			s.log.Warn("snapshot prune", zap.Error(err))
		}
		for _, p := range removed {
			s.log.Debug("snapshot pruned", zap.String("path", p))
		}
	}
	s.log.Info("snapshot written",
		zap.String("path", path),
		zap.Uint64("tick", set.Tick),
		zap.Int("stations", snap.Header.Stations),
		zap.Duration("took", time.Since(start)))
	return set.Tick, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := logger
	ctx, cancel := signalContext()
	defer cancel()

	tun, err := loadTuning(log)
	if err != nil {
		return err
	}
	cats, err := catalogs.Load(configDir, log)
	if err != nil {
		return err
	}
	digest := catalogDigest(cats.Digests)

	snapDir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return err
	}
	var resume *snapshot.SnapshotV1
	if latest := snapshot.Latest(snapDir); latest != "" && !noResume {
		snap, err := snapshot.ReadSnapshot(latest)
		if err != nil {
			return fmt.Errorf("resume %s: %w", latest, err)
		}
		if snap.Header.CatalogDigest != digest {
			log.Warn("catalogs changed since snapshot", zap.String("path", latest))
		}
		seed = snap.Seed
		resume = &snap
	}

	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index.sqlite"), indexdb.Options{Logger: log.Named("indexdb")})
	if err != nil {
		return fmt.Errorf("index db: %w", err)
	}
	defer idx.Close()
	if err := idx.UpsertCatalogs(cats.Digests); err != nil {
		log.Warn("catalog digests", zap.Error(err))
	}

	audit := persistlog.NewAuditLogger(dataDir, log)
	defer audit.Close()
	events := persistlog.NewTickLogger(dataDir, log)
	defer events.Close()

	mirror, err := openMirror(log.Named("mirror"))
	if err != nil {
		return err
	}
	defer mirror.Close()

	rec := metrics.NewRecorder()
	world := gridworld.New(tun.World, cats.Table, log.Named("world"))
	src := &hostSource{}
	obs := observer.NewServer(src, tun.Settlement.Dimension, log.Named("observer"))

	res := resolver.New(cats.Table, cats.Recipes, tun.ResolverMaxDepth, log.Named("resolver"))
	exec := executor.New(tun.Executor, res, world, executor.Options{
		Notifier: obs,
		Recorder: rec,
		Progress: idx,
		Auditor:  auditors{audit, idx},
		Logger:   log.Named("executor"),
		Seed:     seed,
	})
	compiler := blueprint.NewCompiler(cats.Blueprints, tun.Blueprint, log.Named("blueprint"))

	publish := make(chan uint64, 1)
	snapReq := make(chan struct{}, 1)
	every := uint64(tun.SnapshotEveryTicks)

	host := settlement.New(tun.Settlement, cats.Table, world, territory.NewRegistry(), compiler, exec, tun.Reconcile,
		settlement.Options{
			Navigators: func(a *model.Agent) executor.Navigator { return world.NewNavigator(&a.Pos) },
			Cursors:    idx,
			Ledger:     idx,
			Logger:     log.Named("settlement"),
			OnTick: func(tick uint64) {
				rec.SetTick(tick)
				if every > 0 && tick%every == 0 {
					select {
					case snapReq <- struct{}{}:
					default:
					}
				}
			},
			OnReconcile: func(tick uint64, rep reconcile.Report) {
				events.WriteReconcile(tick, rep)
				rec.ObserveReconcile(rep)
				select {
				case publish <- tick:
				default:
				}
			},
		})
	src.h = host

	if resume != nil {
		if err := world.Import(resume.World); err != nil {
			return fmt.Errorf("resume world: %w", err)
		}
		rep, err := host.Import(resume.Settlement)
		if err != nil {
			return fmt.Errorf("resume settlement: %w", err)
		}
		log.Info("resumed", zap.Uint64("tick", resume.Header.Tick), zap.Int("restored", rep.Restored), zap.Int("pending", rep.Pending))
	} else {
		for _, s := range seedStations {
			pos, bp, rot, err := parseStation(s)
			if err != nil {
				return err
			}
			if _, err := host.PlaceStation(pos, bp, rot); err != nil {
				return fmt.Errorf("seed station %s: %w", s, err)
			}
		}
	}

	snaps := &snapshotter{
		host:   host,
		world:  world,
		dir:    snapDir,
		digest: digest,
		seed:   seed,
		keep:   tun.SnapshotKeep,
		idx:    idx,
		rec:    rec,
		log:    log.Named("snapshot"),

		dataDir:      dataDir,
		archiveEvery: uint64(tun.ArchiveEveryTicks),
		mirror:       mirror,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	admin.NewServer(host, snaps.Write, log.Named("admin")).Register(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return host.Run(gctx) })
	if bw, err := catalogs.NewBlueprintWatcher(cats.Blueprints, log.Named("blueprints")); err != nil {
		log.Warn("blueprint hot reload disabled", zap.Error(err))
	} else {
		g.Go(func() error { return bw.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case tick := <-publish:
				obs.PublishStations(tick)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-snapReq:
				if _, err := snaps.Write(gctx); err != nil {
					log.Warn("periodic snapshot", zap.Error(err))
				}
			}
		}
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	if _, err := snaps.Write(context.Background()); err != nil {
		log.Warn("final snapshot", zap.Error(err))
	}
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := idx.Flush(flushCtx); err != nil {
		log.Warn("index flush", zap.Error(err))
	}
	st := idx.Stats()
	log.Info("stopped",
		zap.Uint64("tick", host.Now()),
		zap.Uint64("observer_dropped", obs.Dropped()),
		zap.Int("index_queue", st.QueueDepth),
		zap.Uint64("mirror_dropped", mirror.Stats().DroppedTotal))
	return runErr
}
