package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestReferralInsertError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unique violation",
			err:  &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "referrals_diagnosis_id_partner_id_key"},
			want: ErrDuplicateReferral,
		},
		{
			name: "missing partner",
			err:  &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "referrals_partner_id_fkey"},
			want: ErrPartnerNotFound,
		},
		{
			name: "missing diagnosis",
			err:  &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "referrals_diagnosis_id_fkey"},
			want: ErrDiagnosisNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := referralInsertError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("referralInsertError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReferralInsertError_Passthrough(t *testing.T) {
	cause := errors.New("connection reset by peer")

	got := referralInsertError(cause)
	if !errors.Is(got, cause) {
		t.Errorf("referralInsertError() = %v, want wrapped %v", got, cause)
	}
	if errors.Is(got, ErrDiagnosisNotFound) || errors.Is(got, ErrPartnerNotFound) {
		t.Errorf("unexpected domain error mapping: %v", got)
	}
}
