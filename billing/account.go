package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pocketfolio/billing-engine/calendar"
)

// =============================================================================
// CONFIGURATION-TIME VALIDATION
// =============================================================================
//
// Invalid days, a missing autopay source, and autopay chains are rejected
// here so run-time operations never see them.

// ValidateBillingConfig checks a config in isolation. Cross-account rules
// live in Engine.ConfigureAccount.
func ValidateBillingConfig(cfg BillingConfig) error {
	var errs []error
	if err := cfg.ClosingDay.Validate(); err != nil {
		errs = append(errs, configError("closing_day", int(cfg.ClosingDay), err))
	}
	if err := cfg.DueDay.Validate(); err != nil {
		errs = append(errs, configError("due_day", int(cfg.DueDay), err))
	}
	if cfg.DueMonthOffset < 0 || cfg.DueMonthOffset > MaxDueMonthOffset {
		errs = append(errs, configReason("due_month_offset", cfg.DueMonthOffset,
			fmt.Sprintf("must be between 0 and %d", MaxDueMonthOffset)))
	}
	if err := cfg.DueHolidayPolicy.Validate(); err != nil {
		errs = append(errs, configError("due_holiday_policy", string(cfg.DueHolidayPolicy), err))
	}
	if cfg.AutopayEnabled && cfg.AutopayAccount == "" {
		errs = append(errs, configReason("autopay_account", nil, "required when autopay is enabled"))
	}
	return errors.Join(errs...)
}

// ValidateAccount checks an account in isolation.
func ValidateAccount(a Account) error {
	var errs []error
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, configReason("name", nil, "required"))
	}
	if !a.Kind.Valid() {
		errs = append(errs, configReason("kind", string(a.Kind), "unknown account kind"))
	}
	if err := ValidateCurrency(a.CurrencyCode); err != nil {
		errs = append(errs, configError("currency_code", a.CurrencyCode, err))
	}
	switch {
	case a.Kind == AccountCreditCard && a.Billing == nil:
		errs = append(errs, configReason("billing", nil, "required for credit card accounts"))
	case a.Kind != AccountCreditCard && a.Billing != nil:
		errs = append(errs, configReason("billing", nil, "only credit card accounts have a billing cycle"))
	case a.Billing != nil:
		if err := ValidateBillingConfig(*a.Billing); err != nil {
			errs = append(errs, err)
		}
		if a.Billing.AutopayAccount != "" && a.Billing.AutopayAccount == a.ID {
			errs = append(errs, configReason("autopay_account", string(a.ID), "cannot pay itself"))
		}
	}
	return errors.Join(errs...)
}

// ConfigureAccount validates and saves an account, assigning an id when
// empty. The autopay source must exist and must not itself have autopay
// enabled, and an account that funds another's autopay cannot enable its own.
func (e *Engine) ConfigureAccount(ctx context.Context, a Account) (Account, error) {
	if a.ID == "" {
		a.ID = AccountID(uuid.NewString())
	}
	if a.Billing != nil && a.Billing.DueHolidayPolicy == "" {
		a.Billing.DueHolidayPolicy = calendar.PolicyNone
	}
	if err := ValidateAccount(a); err != nil {
		return Account{}, err
	}

	if a.Billing != nil && a.Billing.AutopayEnabled {
		source, err := e.store.GetAccount(ctx, a.Billing.AutopayAccount)
		if err != nil {
			if IsNotFound(err) {
				return Account{}, configError("autopay_account", string(a.Billing.AutopayAccount), err)
			}
			return Account{}, err
		}
		if source.HasAutopay() {
			return Account{}, configReason("autopay_account", string(source.ID), "autopay source must not itself use autopay")
		}

		all, err := e.store.ListAccounts(ctx)
		if err != nil {
			return Account{}, err
		}
		for _, other := range all {
			if other.ID != a.ID && other.HasAutopay() && other.Billing.AutopayAccount == a.ID {
				return Account{}, configReason("autopay_enabled", true,
					fmt.Sprintf("account funds autopay of %s", other.ID))
			}
		}
	}

	if err := e.store.SaveAccount(ctx, a); err != nil {
		return Account{}, fmt.Errorf("save account: %w", err)
	}
	e.logger.Info("account configured", "account_id", string(a.ID), "kind", string(a.Kind))
	return a, nil
}

// ValidateRecurrence checks a recurrence in isolation.
func ValidateRecurrence(r Recurrence) error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, configReason("name", nil, "required"))
	}
	if r.AccountID == "" {
		errs = append(errs, configReason("account_id", nil, "required"))
	}
	if r.Kind != RecurrenceIncome && r.Kind != RecurrenceExpense {
		errs = append(errs, configReason("kind", string(r.Kind), "must be INCOME or EXPENSE"))
	}
	if !r.Amount.IsPositive() {
		errs = append(errs, configReason("amount", r.Amount.Value.String(), "must be positive"))
	}
	if err := ValidateCurrency(r.Amount.Currency); err != nil {
		errs = append(errs, configError("currency_code", r.Amount.Currency, err))
	}
	if err := r.DayOfMonth.Validate(); err != nil {
		errs = append(errs, configError("day_of_month", int(r.DayOfMonth), err))
	}
	if err := r.HolidayPolicy.Validate(); err != nil {
		errs = append(errs, configError("holiday_policy", string(r.HolidayPolicy), err))
	}
	return errors.Join(errs...)
}

// ConfigureRecurrence validates and saves a recurrence. The generation marker
// of an existing recurrence is preserved.
func (e *Engine) ConfigureRecurrence(ctx context.Context, r Recurrence) (Recurrence, error) {
	if r.Kind == "" {
		r.Kind = RecurrenceExpense
	}
	if r.HolidayPolicy == "" {
		r.HolidayPolicy = calendar.PolicyNone
	}
	if err := ValidateRecurrence(r); err != nil {
		return Recurrence{}, err
	}
	if _, err := e.store.GetAccount(ctx, r.AccountID); err != nil {
		if IsNotFound(err) {
			return Recurrence{}, configError("account_id", string(r.AccountID), err)
		}
		return Recurrence{}, err
	}

	if r.ID == "" {
		r.ID = RecurrenceID(uuid.NewString())
		r.LastGenerated = calendar.YearMonth{}
	} else {
		existing, err := e.store.GetRecurrence(ctx, r.ID)
		switch {
		case err == nil:
			r.LastGenerated = existing.LastGenerated
		case !IsNotFound(err):
			return Recurrence{}, err
		}
	}

	if err := e.store.SaveRecurrence(ctx, r); err != nil {
		return Recurrence{}, fmt.Errorf("save recurrence: %w", err)
	}
	e.logger.Info("recurrence configured", "recurrence_id", string(r.ID), "day", r.DayOfMonth.String())
	return r, nil
}

// SetRecurrenceActive toggles a recurrence. Inactive recurrences are skipped
// by RunRecurrencesForDate.
func (e *Engine) SetRecurrenceActive(ctx context.Context, id RecurrenceID, active bool) (*Recurrence, error) {
	r, err := e.store.GetRecurrence(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Active == active {
		return r, nil
	}
	r.Active = active
	if err := e.store.SaveRecurrence(ctx, *r); err != nil {
		return nil, fmt.Errorf("save recurrence: %w", err)
	}
	return r, nil
}
