package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/reports/export"
	"token-sale/sale-backend/internal/sale"
	"token-sale/sale-backend/pkg/storage"
)

// ErrStorageDisabled is returned by snapshot operations when no bucket is
// configured.
var ErrStorageDisabled = errors.New("snapshot storage is not configured")

// SaleSource is the read side of the sale service used by reports.
type SaleSource interface {
	ListSales(ctx context.Context) ([]sale.SaleConfig, error)
	Totals(ctx context.Context, saleID uuid.UUID) (*sale.TotalsSnapshot, error)
	ListAccounts(ctx context.Context, saleID uuid.UUID) ([]sale.InvestorAccount, error)
	PreviewClaimable(ctx context.Context, saleID uuid.UUID, investor string) (*sale.Quote, error)
}

// SnapshotURLExpiry is how long a presigned snapshot link stays valid.
const SnapshotURLExpiry = 15 * time.Minute

// SnapshotTarget is where scheduled snapshots are uploaded.
type SnapshotTarget struct {
	Bucket string
	Prefix string
}

// Service provides reporting business logic
type Service struct {
	sales   SaleSource
	storage storage.S3Client
	target  SnapshotTarget
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a new reports service. storage may be nil, which
// disables snapshot uploads.
func NewService(sales SaleSource, store storage.S3Client, target SnapshotTarget, logger *zap.Logger) *Service {
	return &Service{
		sales:   sales,
		storage: store,
		target:  target,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// InvestorReport builds the investor ledger of a sale.
func (s *Service) InvestorReport(ctx context.Context, saleID uuid.UUID) (*InvestorReport, error) {
	snapshot, err := s.sales.Totals(ctx, saleID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.sales.ListAccounts(ctx, saleID)
	if err != nil {
		return nil, err
	}

	report := &InvestorReport{
		SaleID:      saleID,
		SaleName:    snapshot.Config.Name,
		Phase:       snapshot.Phase,
		TotalSpent:  sale.FormatUnits(snapshot.Ledger.TotalSpent, sale.PaymentAssetDecimals),
		TotalSold:   sale.FormatUnits(snapshot.Ledger.TotalAllocated, sale.SaleAssetDecimals),
		Supplied:    sale.FormatUnits(snapshot.Config.TotalSaleAssetSupplied, sale.SaleAssetDecimals),
		Investors:   snapshot.Ledger.InvestorCount,
		Canceled:    snapshot.Config.Canceled,
		Rows:        make([]InvestorRow, 0, len(accounts)),
		GeneratedAt: s.now(),
	}
	for _, acct := range accounts {
		claimable, err := s.sales.PreviewClaimable(ctx, saleID, acct.Investor)
		if err != nil {
			return nil, fmt.Errorf("failed to preview claimable for %s: %w", acct.Investor, err)
		}
		report.Rows = append(report.Rows, InvestorRow{
			Investor:  acct.Investor,
			Spent:     sale.FormatUnits(acct.Spent, sale.PaymentAssetDecimals),
			Entitled:  sale.FormatUnits(acct.Entitled, sale.SaleAssetDecimals),
			Claimed:   sale.FormatUnits(acct.Claimed, sale.SaleAssetDecimals),
			Claimable: claimable.Display,
			Refunded:  acct.Refunded,
		})
	}
	return report, nil
}

// Export renders the investor ledger of a sale in the given format.
func (s *Service) Export(ctx context.Context, saleID uuid.UUID, format Format) (*ExportResult, error) {
	report, err := s.InvestorReport(ctx, saleID)
	if err != nil {
		return nil, err
	}
	data, err := render(report, format)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		FileName:    fmt.Sprintf("sale-%s-investors-%s.%s", saleID, report.GeneratedAt.Format("20060102T150405Z"), format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

// SnapshotAll uploads a CSV investor ledger of every sale and returns the
// uploaded keys. A failing sale does not stop the others.
func (s *Service) SnapshotAll(ctx context.Context) ([]string, error) {
	if s.storage == nil || s.target.Bucket == "" {
		return nil, ErrStorageDisabled
	}
	sales, err := s.sales.ListSales(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	var errs []error
	for _, cfg := range sales {
		result, err := s.Export(ctx, cfg.ID, FormatCSV)
		if err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", cfg.ID, err))
			continue
		}
		key := path.Join(s.target.Prefix, cfg.ID.String(), result.FileName)
		if err := s.storage.Upload(ctx, s.target.Bucket, key, result.ContentType, bytes.NewReader(result.Data)); err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", cfg.ID, err))
			continue
		}
		keys = append(keys, key)
		if err := s.storage.Upload(ctx, s.target.Bucket, s.latestKey(cfg.ID), result.ContentType, bytes.NewReader(result.Data)); err != nil {
			errs = append(errs, fmt.Errorf("sale %s latest: %w", cfg.ID, err))
		}
	}

	s.logger.Info("Investor ledger snapshots uploaded",
		zap.Int("sales", len(sales)),
		zap.Int("uploaded", len(keys)),
		zap.Int("failed", len(errs)),
	)
	return keys, errors.Join(errs...)
}

// LatestSnapshotURL presigns the most recent scheduled snapshot of a sale.
func (s *Service) LatestSnapshotURL(ctx context.Context, saleID uuid.UUID, expiry time.Duration) (*SnapshotLink, error) {
	if s.storage == nil || s.target.Bucket == "" {
		return nil, ErrStorageDisabled
	}
	if _, err := s.sales.Totals(ctx, saleID); err != nil {
		return nil, err
	}
	key := s.latestKey(saleID)
	url, err := s.storage.GetPresignedURL(ctx, s.target.Bucket, key, expiry)
	if err != nil {
		return nil, err
	}
	return &SnapshotLink{Key: key, URL: url, ExpiresAt: s.now().Add(expiry)}, nil
}

func (s *Service) latestKey(saleID uuid.UUID) string {
	return path.Join(s.target.Prefix, saleID.String(), "latest.csv")
}

func render(report *InvestorReport, format Format) ([]byte, error) {
	table := report.Table()
	var buf bytes.Buffer

	switch format {
	case FormatCSV:
		if err := export.NewCSVExporter(&buf, export.DefaultCSVOptions()).WriteTable(table); err != nil {
			return nil, err
		}
	case FormatXLSX:
		exporter, err := export.NewExcelExporter(export.DefaultExcelOptions())
		if err != nil {
			return nil, err
		}
		defer exporter.Close()
		if err := exporter.WriteTable(table); err != nil {
			return nil, err
		}
		if err := exporter.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("failed to write workbook: %w", err)
		}
	case FormatPDF:
		generator := export.NewPDFGenerator(export.DefaultPDFOptions())
		if err := generator.GenerateReport(table, report.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to generate PDF: %w", err)
		}
		if err := generator.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("failed to write PDF: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return buf.Bytes(), nil
}
