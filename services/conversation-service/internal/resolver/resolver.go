// Package resolver maps phone numbers on inbound messages to tenants and
// customers.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/model"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
)

const (
	placeholderName        = "Cliente"
	placeholderEmailDomain = "whatsapp.placeholder"
)

type BusinessResolver struct {
	repo  storage.Repository
	phone *phone.Normalizer
}

func NewBusinessResolver(repo storage.Repository, n *phone.Normalizer) *BusinessResolver {
	return &BusinessResolver{repo: repo, phone: n}
}

// FindByDestination returns the business that owns the number a message was
// sent to. ok is false when no tenant owns it.
func (r *BusinessResolver) FindByDestination(ctx context.Context, to string) (b model.Business, ok bool, err error) {
	patterns := r.phone.Patterns(to)
	if len(patterns) == 0 {
		return model.Business{}, false, nil
	}
	// Canonical spellings go first so a legacy row never shadows a current one.
	ordered := append([]string{r.phone.Format(to), r.phone.Canonical(to)}, patterns...)

	b, err = r.repo.FindBusinessByPhonePatterns(ctx, dedupe(ordered))
	if storage.IsNotFound(err) {
		return model.Business{}, false, nil
	}
	if err != nil {
		return model.Business{}, false, fmt.Errorf("resolve business %s: %w", to, err)
	}
	return b, true, nil
}

type CustomerResolver struct {
	repo   storage.Repository
	phone  *phone.Normalizer
	logger *slog.Logger
}

func NewCustomerResolver(repo storage.Repository, n *phone.Normalizer, logger *slog.Logger) *CustomerResolver {
	return &CustomerResolver{repo: repo, phone: n, logger: logger}
}

// FindOrCreate looks the customer up under every spelling of the number and
// creates a placeholder record when none matches. phoneNumber is the number
// as received, so its international prefix is still visible. Two concurrent
// calls for the same number can both create; callers serialize per phone.
func (r *CustomerResolver) FindOrCreate(ctx context.Context, phoneNumber, businessID string) (model.Customer, error) {
	patterns := r.phone.Patterns(phoneNumber)
	if len(patterns) == 0 {
		return model.Customer{}, fmt.Errorf("resolve customer: empty phone")
	}

	c, err := r.repo.FindCustomerByPhonePatterns(ctx, businessID, patterns)
	if err == nil {
		return c, nil
	}
	if !storage.IsNotFound(err) {
		return model.Customer{}, fmt.Errorf("find customer: %w", err)
	}

	canonical := r.phone.Canonical(phoneNumber)
	c, err = r.repo.InsertCustomer(ctx, model.Customer{
		BusinessID: businessID,
		Name:       placeholderName,
		Phone:      "+" + canonical,
		Email:      canonical + "@" + placeholderEmailDomain,
	})
	if err != nil {
		return model.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	r.logger.Info("customer created", "customer_id", c.ID, "business_id", businessID)
	return c, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
