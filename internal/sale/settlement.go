package sale

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Asset distinguishes the two assets of a sale.
type Asset string

const (
	AssetPayment Asset = "payment"
	AssetSale    Asset = "sale"
)

// Transfer is a movement of assets between a sale and a party.
type Transfer struct {
	SaleID uuid.UUID `json:"sale_id"`
	Asset  Asset     `json:"asset"`
	Party  string    `json:"party"`
	Amount Amount    `json:"amount"`
	Reason Operation `json:"reason"`
}

// Settlement moves assets. It is called inside the operation's transaction
// and an error aborts the operation.
type Settlement interface {
	// Collect moves assets from the party into the sale.
	Collect(ctx context.Context, t Transfer) error
	// Release moves assets from the sale to the party.
	Release(ctx context.Context, t Transfer) error
}

// LogSettlement records transfers without moving anything.
type LogSettlement struct {
	logger *zap.Logger
}

func NewLogSettlement(logger *zap.Logger) *LogSettlement {
	return &LogSettlement{logger: logger}
}

func (s *LogSettlement) Collect(ctx context.Context, t Transfer) error {
	s.log("Collect", t)
	return nil
}

func (s *LogSettlement) Release(ctx context.Context, t Transfer) error {
	s.log("Release", t)
	return nil
}

func (s *LogSettlement) log(direction string, t Transfer) {
	s.logger.Info("Settlement "+direction,
		zap.String("sale_id", t.SaleID.String()),
		zap.String("asset", string(t.Asset)),
		zap.String("party", t.Party),
		zap.String("amount", t.Amount.String()),
		zap.String("reason", string(t.Reason)),
	)
}
