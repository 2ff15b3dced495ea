package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSubmissionIDIsOrdered(t *testing.T) {
	prev := GenerateSubmissionID()
	assert.True(t, strings.HasPrefix(prev, "sub_"))
	for i := 0; i < 200; i++ {
		next := GenerateSubmissionID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestSortSubmissions(t *testing.T) {
	base := time.Date(2024, 4, 22, 8, 0, 0, 0, time.UTC)
	items := []QueuedSubmission{
		{ID: "sub_c", CreatedAt: base.Add(time.Minute)},
		{ID: "sub_b", CreatedAt: base},
		{ID: "sub_a", CreatedAt: base},
	}

	SortSubmissions(items)

	assert.Equal(t, []string{"sub_a", "sub_b", "sub_c"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, 2, IndexOf(items, "sub_c"))
	assert.Equal(t, -1, IndexOf(items, "sub_missing"))
}

func TestErrorKindRetryable(t *testing.T) {
	assert.True(t, ErrorKindNetwork.Retryable())
	assert.True(t, ErrorKindTimeout.Retryable())
	assert.False(t, ErrorKindValidation.Retryable())
	assert.False(t, ErrorKindAuthorization.Retryable())
}

func TestFormPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload FormPayload
		wantErr bool
	}{
		{
			name: "valid production target",
			payload: ProductionTarget{
				LineID: "line-1", Product: "shirt", TargetQuantity: decimal.NewFromInt(500), Unit: "pcs", ShiftDate: "2024-04-22",
			},
		},
		{
			name: "zero production target",
			payload: ProductionTarget{
				LineID: "line-1", Product: "shirt", TargetQuantity: decimal.Zero, Unit: "pcs", ShiftDate: "2024-04-22",
			},
			wantErr: true,
		},
		{
			name: "rejects above output",
			payload: DailyOutput{
				LineID: "line-1", Product: "shirt", Quantity: decimal.NewFromInt(10), Rejects: decimal.NewFromInt(11),
				Unit: "pcs", Shift: "morning", ShiftDate: "2024-04-22",
			},
			wantErr: true,
		},
		{
			name: "unknown shift",
			payload: DailyOutput{
				LineID: "line-1", Product: "shirt", Quantity: decimal.NewFromInt(10), Unit: "pcs", Shift: "noon", ShiftDate: "2024-04-22",
			},
			wantErr: true,
		},
		{
			name: "valid cutting ledger",
			payload: CuttingLedger{
				Material: "denim", RollID: "R-44", Cut: decimal.RequireFromString("12.5"), Wastage: decimal.RequireFromString("0.4"),
				Unit: "m", EntryDate: "2024-04-22",
			},
		},
		{
			name: "bad storage movement",
			payload: StorageLedger{
				ItemCode: "BTN-1", Movement: "sideways", Quantity: decimal.NewFromInt(3), Location: "A1", EntryDate: "2024-04-22",
			},
			wantErr: true,
		},
		{
			name: "bad entry date",
			payload: StorageLedger{
				ItemCode: "BTN-1", Movement: "in", Quantity: decimal.NewFromInt(3), Location: "A1", EntryDate: "22/04/2024",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	raw, err := json.Marshal(StorageLedger{
		ItemCode: "BTN-1", Movement: "out", Quantity: decimal.NewFromInt(3), Location: "A1", EntryDate: "2024-04-22",
	})
	require.NoError(t, err)

	payload, err := DecodePayload(FormStorageLedger, raw)
	require.NoError(t, err)
	assert.Equal(t, FormStorageLedger, payload.FormType())

	_, err = DecodePayload(FormType("invoice"), raw)
	assert.True(t, errors.Is(err, ErrUnknownFormType))

	_, err = DecodePayload(FormStorageLedger, []byte(`{"item_code":"BTN-1","colour":"red"}`))
	assert.Error(t, err)
}

func TestDecodePayloadRejectsTrailingData(t *testing.T) {
	raw, err := json.Marshal(StorageLedger{
		ItemCode: "BTN-1", Movement: "in", Quantity: decimal.NewFromInt(3), Location: "A1", EntryDate: "2024-04-22",
	})
	require.NoError(t, err)

	for _, suffix := range []string{" trailing", ` {"item_code":"BTN-2"}`, "]"} {
		_, err := DecodePayload(FormStorageLedger, append(append([]byte{}, raw...), suffix...))
		assert.ErrorIs(t, err, ErrTrailingData, "suffix %q", suffix)
	}

	_, err = DecodePayload(FormStorageLedger, append(append([]byte{}, raw...), "\n\t "...))
	assert.NoError(t, err)
}
