package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// FormType tags the logical record kind of a submission. The set is closed.
type FormType string

const (
	FormProductionTarget FormType = "production_target"
	FormDailyOutput      FormType = "daily_output"
	FormCuttingLedger    FormType = "cutting_ledger"
	FormStorageLedger    FormType = "storage_ledger"
)

var (
	ErrUnknownFormType = errors.New("unknown form type")
	ErrTrailingData    = errors.New("unexpected data after the record")
)

const dateLayout = "2006-01-02"

// FormPayload is implemented by every production record variant.
type FormPayload interface {
	FormType() FormType
	Validate() error
}

// FormTypes lists every known form type.
func FormTypes() []FormType {
	return []FormType{FormProductionTarget, FormDailyOutput, FormCuttingLedger, FormStorageLedger}
}

// Valid reports whether the form type belongs to the closed set.
func (f FormType) Valid() bool {
	for _, known := range FormTypes() {
		if f == known {
			return true
		}
	}
	return false
}

type ProductionTarget struct {
	LineID         string          `json:"line_id"`
	Product        string          `json:"product"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	Unit           string          `json:"unit"`
	ShiftDate      string          `json:"shift_date"`
}

func (ProductionTarget) FormType() FormType { return FormProductionTarget }

func (p ProductionTarget) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.LineID, validation.Required),
		validation.Field(&p.Product, validation.Required),
		validation.Field(&p.TargetQuantity, validation.By(positive)),
		validation.Field(&p.Unit, validation.Required),
		validation.Field(&p.ShiftDate, validation.Required, validation.By(isDate)),
	)
}

type DailyOutput struct {
	LineID    string          `json:"line_id"`
	Product   string          `json:"product"`
	Quantity  decimal.Decimal `json:"quantity"`
	Rejects   decimal.Decimal `json:"rejects"`
	Unit      string          `json:"unit"`
	Shift     string          `json:"shift"`
	ShiftDate string          `json:"shift_date"`
}

func (DailyOutput) FormType() FormType { return FormDailyOutput }

func (d DailyOutput) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.LineID, validation.Required),
		validation.Field(&d.Product, validation.Required),
		validation.Field(&d.Quantity, validation.By(nonNegative)),
		validation.Field(&d.Rejects, validation.By(nonNegative), validation.By(func(value interface{}) error {
			if d.Rejects.GreaterThan(d.Quantity) {
				return errors.New("cannot exceed quantity")
			}
			return nil
		})),
		validation.Field(&d.Unit, validation.Required),
		validation.Field(&d.Shift, validation.Required, validation.In("morning", "evening", "night")),
		validation.Field(&d.ShiftDate, validation.Required, validation.By(isDate)),
	)
}

// CuttingLedger records material consumed at a cutting table. Ledgers are
// order-sensitive downstream because the remote keeps a running balance.
type CuttingLedger struct {
	Material  string          `json:"material"`
	RollID    string          `json:"roll_id"`
	Cut       decimal.Decimal `json:"cut"`
	Wastage   decimal.Decimal `json:"wastage"`
	Unit      string          `json:"unit"`
	EntryDate string          `json:"entry_date"`
}

func (CuttingLedger) FormType() FormType { return FormCuttingLedger }

func (c CuttingLedger) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Material, validation.Required),
		validation.Field(&c.RollID, validation.Required),
		validation.Field(&c.Cut, validation.By(positive)),
		validation.Field(&c.Wastage, validation.By(nonNegative)),
		validation.Field(&c.Unit, validation.Required),
		validation.Field(&c.EntryDate, validation.Required, validation.By(isDate)),
	)
}

type StorageLedger struct {
	ItemCode  string          `json:"item_code"`
	Movement  string          `json:"movement"`
	Quantity  decimal.Decimal `json:"quantity"`
	Location  string          `json:"location"`
	EntryDate string          `json:"entry_date"`
}

func (StorageLedger) FormType() FormType { return FormStorageLedger }

func (s StorageLedger) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ItemCode, validation.Required),
		validation.Field(&s.Movement, validation.Required, validation.In("in", "out")),
		validation.Field(&s.Quantity, validation.By(positive)),
		validation.Field(&s.Location, validation.Required),
		validation.Field(&s.EntryDate, validation.Required, validation.By(isDate)),
	)
}

// NewPayload returns an empty variant for the form type.
func NewPayload(formType FormType) (FormPayload, error) {
	switch formType {
	case FormProductionTarget:
		return &ProductionTarget{}, nil
	case FormDailyOutput:
		return &DailyOutput{}, nil
	case FormCuttingLedger:
		return &CuttingLedger{}, nil
	case FormStorageLedger:
		return &StorageLedger{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormType, formType)
}

// DecodePayload decodes a raw record into its variant and validates it.
func DecodePayload(formType FormType, raw []byte) (FormPayload, error) {
	payload, err := NewPayload(formType)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", formType, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s payload: %w", formType, ErrTrailingData)
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func positive(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal")
	}
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func nonNegative(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func isDate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return errors.New("must be a string")
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DD' (e.g., 2024-04-22)")
	}
	return nil
}
