package model

import "testing"

func TestSplitDeduction_SubscriptionFirst(t *testing.T) {
	tests := []struct {
		name     string
		sub, pur int
		amount   int
		wantSub  int
		wantPur  int
		wantOK   bool
	}{
		{"subscription covers it", 10, 5, 4, 6, 5, true},
		{"spills into purchased", 3, 10, 5, 0, 8, true},
		{"drains both exactly", 3, 2, 5, 0, 0, true},
		{"purchased only", 0, 7, 7, 0, 0, true},
		{"insufficient", 2, 2, 5, 2, 2, false},
		{"zero amount", 5, 5, 0, 5, 5, false},
		{"negative amount", 5, 5, -1, 5, 5, false},
		{"empty account", 0, 0, 1, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSub, gotPur, ok := SplitDeduction(tt.sub, tt.pur, tt.amount)
			if ok != tt.wantOK {
				t.Fatalf("SplitDeduction(%d, %d, %d) ok = %v, want %v", tt.sub, tt.pur, tt.amount, ok, tt.wantOK)
			}
			if gotSub != tt.wantSub || gotPur != tt.wantPur {
				t.Errorf("SplitDeduction(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.sub, tt.pur, tt.amount, gotSub, gotPur, tt.wantSub, tt.wantPur)
			}
		})
	}
}

// A successful deduction removes exactly the requested amount; a refused one
// changes nothing.
func TestSplitDeduction_Conservation(t *testing.T) {
	for sub := 0; sub <= 6; sub++ {
		for pur := 0; pur <= 6; pur++ {
			for amount := 1; amount <= 10; amount++ {
				newSub, newPur, ok := SplitDeduction(sub, pur, amount)
				if newSub < 0 || newPur < 0 {
					t.Fatalf("SplitDeduction(%d, %d, %d) produced negative pool (%d, %d)", sub, pur, amount, newSub, newPur)
				}
				if ok {
					if (sub+pur)-(newSub+newPur) != amount {
						t.Errorf("SplitDeduction(%d, %d, %d) removed %d credits, want %d",
							sub, pur, amount, (sub+pur)-(newSub+newPur), amount)
					}
				} else if newSub != sub || newPur != pur {
					t.Errorf("refused SplitDeduction(%d, %d, %d) still mutated pools to (%d, %d)",
						sub, pur, amount, newSub, newPur)
				}
			}
		}
	}
}

func TestPoolForAddition(t *testing.T) {
	tests := []struct {
		txType  TransactionType
		wantSub bool
		wantOK  bool
	}{
		{TransactionPurchase, false, true},
		{TransactionRefund, false, true},
		{TransactionSubscriptionRenewal, true, true},
		{TransactionAnalysisCharge, false, false},
		{TransactionType("bogus"), false, false},
	}

	for _, tt := range tests {
		sub, ok := PoolForAddition(tt.txType)
		if sub != tt.wantSub || ok != tt.wantOK {
			t.Errorf("PoolForAddition(%q) = (%v, %v), want (%v, %v)", tt.txType, sub, ok, tt.wantSub, tt.wantOK)
		}
	}
}
