package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/rent"
)

// RentChangeNotifier emails tenants when their monthly rent changes.
type RentChangeNotifier struct {
	Store   Store
	Mail    common.EmailSender
	Enabled bool
}

// NotifyRentChange implements the rent.Notifier interface.
func (n RentChangeNotifier) NotifyRentChange(ctx context.Context, change rent.RentChange) error {
	if !n.Enabled || n.Mail == nil || n.Store == nil {
		return nil
	}
	email, err := n.Store.GetTenantEmail(ctx, change.OrgID, change.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("rent notify: lookup tenant email: %w", err)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	subject := "Your monthly rent has changed"
	body := fmt.Sprintf("The monthly rent for unit %s changes from %.2f to %.2f effective %s.",
		change.UnitLabel, change.OldRent, change.NewRent, change.EffectiveDate.Format(time.DateOnly))
	return n.Mail.Send(email, subject, body)
}
