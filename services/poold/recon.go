package poold

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"

	"omnipool/native/pool"
	"omnipool/observability"
)

// AnomalyNegativeGap flags an asset whose custodied holdings do not cover the
// ledger liabilities.
const AnomalyNegativeGap = "negative_gap"

// ReconConfig captures the dependencies required to construct a Reconciler.
type ReconConfig struct {
	Executor  *Executor
	OutputDir string
	DryRun    bool
	Label     func(common.Address) string
	Now       func() time.Time
	Logger    *slog.Logger
}

// ReconOptions overrides the reconciler defaults for a single run.
type ReconOptions struct {
	DryRun bool
}

// Reconciler compares custodied holdings with ledger totals for every
// tracked asset and exports the result.
type Reconciler struct {
	executor  *Executor
	outputDir string
	dryRun    bool
	label     func(common.Address) string
	now       func() time.Time
	logger    *slog.Logger
}

// SolvencyRow is one asset in a solvency report.
type SolvencyRow struct {
	Asset       common.Address
	Symbol      string
	Custodied   *big.Int
	Pool        *big.Int
	Users       *big.Int
	Fee         *big.Int
	Liabilities *big.Int
	Gap         *big.Int
	UserCount   int
	Solvent     bool
}

// Anomaly captures a reconciliation failure requiring operator review.
type Anomaly struct {
	Type    string `json:"type"`
	Asset   string `json:"asset"`
	Details string `json:"details"`
}

// ReportFile references an exported artefact and its blake3 checksum.
type ReportFile struct {
	Path     string `json:"path"`
	Checksum string `json:"blake3"`
	Size     int64  `json:"size"`
}

// Report summarises a reconciliation run.
type Report struct {
	ID          uuid.UUID     `json:"id"`
	GeneratedAt time.Time     `json:"generatedAt"`
	DryRun      bool          `json:"dryRun"`
	Rows        []SolvencyRow `json:"-"`
	Anomalies   []Anomaly     `json:"anomalies"`
	Files       []ReportFile  `json:"files"`
	Manifest    string        `json:"manifest,omitempty"`
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg ReconConfig) (*Reconciler, error) {
	if cfg.Executor == nil {
		return nil, errors.New("recon: executor is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("omnipool-data", "reports")
	}
	label := cfg.Label
	if label == nil {
		label = func(a common.Address) string { return a.Hex() }
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		executor:  cfg.Executor,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		label:     label,
		now:       now,
		logger:    logger,
	}, nil
}

// Run reconciles every tracked asset.
func (r *Reconciler) Run(ctx context.Context, opts ReconOptions) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reports []pool.SolvencyReport
	userCounts := make(map[common.Address]int)
	err := r.executor.View(func(engine *pool.Engine) error {
		var err error
		if reports, err = engine.SolvencyAll(); err != nil {
			return err
		}
		for _, rep := range reports {
			users, err := engine.Users(rep.Asset)
			if err != nil {
				return err
			}
			userCounts[rep.Asset] = len(users)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recon: solvency: %w", err)
	}

	report := &Report{ID: uuid.New(), GeneratedAt: r.now().UTC(), DryRun: r.dryRun || opts.DryRun}
	metrics := observability.Pool()
	for _, rep := range reports {
		row := SolvencyRow{
			Asset:       rep.Asset,
			Symbol:      r.label(rep.Asset),
			Custodied:   cloneAmount(rep.Custodied),
			Pool:        cloneAmount(rep.Pool),
			Users:       cloneAmount(rep.Users),
			Fee:         cloneAmount(rep.Fee),
			Liabilities: rep.Liabilities(),
			Gap:         rep.Gap(),
			UserCount:   userCounts[rep.Asset],
			Solvent:     rep.Solvent(),
		}
		metrics.SetSolvency(row.Symbol, row.Gap, row.Liabilities)
		if !row.Solvent {
			anomaly := Anomaly{
				Type:    AnomalyNegativeGap,
				Asset:   rep.Asset.Hex(),
				Details: fmt.Sprintf("%s custodied %s below liabilities %s", row.Symbol, row.Custodied, row.Liabilities),
			}
			r.logger.Warn("solvency anomaly", "asset", row.Symbol, "gap", row.Gap.String())
			report.Anomalies = append(report.Anomalies, anomaly)
		}
		report.Rows = append(report.Rows, row)
	}
	if report.DryRun {
		return report, nil
	}

	runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", report.GeneratedAt.Format("20060102T150405Z"), report.ID.String()[:8]))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: ensure output dir: %w", err)
	}
	csvPath := filepath.Join(runDir, "solvency.csv")
	if err := writeSolvencyCSV(csvPath, report.Rows); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(runDir, "solvency.parquet")
	if err := writeSolvencyParquet(parquetPath, report.Rows); err != nil {
		return nil, err
	}
	for _, path := range []string{csvPath, parquetPath} {
		file, err := checksumFile(path)
		if err != nil {
			return nil, err
		}
		report.Files = append(report.Files, file)
		r.logger.Info("recon: wrote report", "path", path, "rows", len(report.Rows))
	}
	report.Manifest = filepath.Join(runDir, "manifest.json")
	manifest, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("recon: encode manifest: %w", err)
	}
	if err := os.WriteFile(report.Manifest, manifest, 0o644); err != nil {
		return nil, fmt.Errorf("recon: write manifest: %w", err)
	}
	return report, nil
}

func writeSolvencyCSV(path string, rows []SolvencyRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"asset", "symbol", "custodied", "pool", "users", "fee", "liabilities", "gap", "user_count", "solvent"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Asset.Hex(),
			row.Symbol,
			row.Custodied.String(),
			row.Pool.String(),
			row.Users.String(),
			row.Fee.String(),
			row.Liabilities.String(),
			row.Gap.String(),
			strconv.Itoa(row.UserCount),
			strconv.FormatBool(row.Solvent),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetSolvencyRow struct {
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Custodied   string `parquet:"name=custodied, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pool        string `parquet:"name=pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	Users       string `parquet:"name=users, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee         string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Liabilities string `parquet:"name=liabilities, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gap         string `parquet:"name=gap, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserCount   int32  `parquet:"name=user_count, type=INT32"`
	Solvent     bool   `parquet:"name=solvent, type=BOOLEAN"`
}

func writeSolvencyParquet(path string, rows []SolvencyRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetSolvencyRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &parquetSolvencyRow{
			Asset:       row.Asset.Hex(),
			Symbol:      row.Symbol,
			Custodied:   row.Custodied.String(),
			Pool:        row.Pool.String(),
			Users:       row.Users.String(),
			Fee:         row.Fee.String(),
			Liabilities: row.Liabilities.String(),
			Gap:         row.Gap.String(),
			UserCount:   int32(row.UserCount),
			Solvent:     row.Solvent,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}

func checksumFile(path string) (ReportFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return ReportFile{}, fmt.Errorf("recon: open %s: %w", path, err)
	}
	defer file.Close()
	hasher := blake3.New(32, nil)
	size, err := io.Copy(hasher, file)
	if err != nil {
		return ReportFile{}, fmt.Errorf("recon: checksum %s: %w", path, err)
	}
	return ReportFile{Path: path, Checksum: hex.EncodeToString(hasher.Sum(nil)), Size: size}, nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
