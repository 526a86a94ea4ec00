package core

import "testing"

func TestTxKindString(t *testing.T) {
	cases := map[TxKind]string{
		TxTransfer:      "transfer",
		TxStake:         "stake",
		TxUnstake:       "unstake",
		TxReward:        "reward",
		TxGenesis:       "genesis",
		TxKind(255):     "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("TxKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestValidatorStatusString(t *testing.T) {
	cases := map[ValidatorStatus]string{
		ValidatorActive:          "ACTIVE",
		ValidatorInactive:        "INACTIVE",
		ValidatorJailed:          "JAILED",
		ValidatorTombstoned:      "TOMBSTONED",
		ValidatorStatus(255):     "UNKNOWN",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("ValidatorStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestUnstakeStatusString(t *testing.T) {
	cases := map[UnstakeStatus]string{
		UnstakePending:      "pending",
		UnstakeProcessed:    "processed",
		UnstakeCancelled:    "cancelled",
		UnstakeStatus(255):  "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("UnstakeStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestEvidenceKindString(t *testing.T) {
	cases := map[EvidenceKind]string{
		EvidenceDoubleSign:      "double_sign",
		EvidenceUnavailability:  "unavailability",
		EvidenceKind(255):       "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("EvidenceKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
