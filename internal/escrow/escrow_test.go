package escrow

import "testing"

func TestFeeAndFunding(t *testing.T) {
	// 5000 at 3% escrow fee funds at 5150.
	if got := Standard.Fee(5000); got != 150 {
		t.Fatalf("fee: got %d want 150", got)
	}
	if got := Standard.TotalFunding(5000); got != 5150 {
		t.Fatalf("funding: got %d want 5150", got)
	}
}

func TestCreatorTakeHomeResident(t *testing.T) {
	// 10000 escrow, resident: commission 800, taxable 9200, tax 460.
	if got := Standard.Commission(10000, true); got != 800 {
		t.Fatalf("commission: got %d want 800", got)
	}
	if got := Standard.WithholdingTax(9200, ResidencyResident); got != 460 {
		t.Fatalf("tax: got %d want 460", got)
	}
	if got := Standard.TakeHome(10000, true, ResidencyResident); got != 8740 {
		t.Fatalf("take-home: got %d want 8740", got)
	}
}

func TestDirectPaymentNoCommission(t *testing.T) {
	if got := Standard.Commission(10000, false); got != 0 {
		t.Fatalf("direct commission: got %d want 0", got)
	}
	// Direct non-resident: tax only, 20% of full amount.
	if got := Standard.TakeHome(10000, false, ResidencyNonResident); got != 8000 {
		t.Fatalf("take-home: got %d want 8000", got)
	}
}

func TestAutoDistributeThreeWay(t *testing.T) {
	// 20000 over 3: even share 6666 exceeds the 6000 cap, so 6000/7000/7000.
	slices := Standard.AutoDistribute(20000, 3)
	want := []int64{6000, 7000, 7000}
	if len(slices) != len(want) {
		t.Fatalf("slices: got %v", slices)
	}
	for i := range want {
		if slices[i] != want[i] {
			t.Fatalf("slice %d: got %d want %d (%v)", i, slices[i], want[i], slices)
		}
	}
}

func TestAutoDistributeProperties(t *testing.T) {
	totals := []int64{0, 1, 7, 100, 999, 20000, 123457, 99999999}
	for _, total := range totals {
		for count := 2; count <= 7; count++ {
			slices := Standard.AutoDistribute(total, count)
			if len(slices) != count {
				t.Fatalf("total=%d count=%d: len %d", total, count, len(slices))
			}
			var sum int64
			for _, s := range slices {
				if s < 0 {
					t.Fatalf("total=%d count=%d: negative slice %v", total, count, slices)
				}
				sum += s
			}
			if sum != total {
				t.Fatalf("total=%d count=%d: sum %d (%v)", total, count, sum, slices)
			}
			if limit := Standard.FirstMilestoneCap(total); slices[0] > limit {
				t.Fatalf("total=%d count=%d: first %d over cap %d", total, count, slices[0], limit)
			}
		}
	}
}

func TestAutoDistributeInvalidCount(t *testing.T) {
	if got := Standard.AutoDistribute(1000, 1); got != nil {
		t.Fatalf("count=1: got %v", got)
	}
	if got := Standard.AutoDistribute(-5, 3); got != nil {
		t.Fatalf("negative total: got %v", got)
	}
}

func TestGrossUpRoundTrip(t *testing.T) {
	nets := []int64{1, 100, 8740, 10000, 123456, 9999999}
	for _, net := range nets {
		for _, isEscrow := range []bool{true, false} {
			for _, res := range []string{ResidencyResident, ResidencyNonResident} {
				gross := Standard.GrossUp(net, isEscrow, res)
				back := Standard.TakeHome(gross, isEscrow, res)
				// Ceiling per amount may overshoot by a unit or two of
				// rounding, never undershoot beyond rounding slack.
				if back < net-1 || back > net+2 {
					t.Fatalf("net=%d escrow=%v res=%s: gross %d takes home %d", net, isEscrow, res, gross, back)
				}
			}
		}
	}
}

func TestGrossUpKnownValue(t *testing.T) {
	// Inverse of the resident escrow scenario: netting 8740 needs 10000.
	if got := Standard.GrossUp(8740, true, ResidencyResident); got != 10000 {
		t.Fatalf("gross-up: got %d want 10000", got)
	}
	if got := Standard.GrossUp(0, true, ResidencyResident); got != 0 {
		t.Fatalf("gross-up zero: got %d", got)
	}
}

func TestGrossUpMilestonesResums(t *testing.T) {
	amounts := []int64{3000, 3000, 4000}
	out, total := Standard.GrossUpMilestones(amounts, true, ResidencyResident)
	var sum int64
	for _, a := range out {
		sum += a
	}
	if sum != total {
		t.Fatalf("total %d not resummed from slices (%v)", total, out)
	}
	for i, a := range out {
		if Standard.TakeHome(a, true, ResidencyResident) < amounts[i] {
			t.Fatalf("milestone %d: gross %d nets under %d", i, a, amounts[i])
		}
	}
}
