// Package escrow holds the pure money math for contract funding, platform
// commission, withholding tax and milestone distribution. Amounts are int64
// minor units; rates are basis points so every computation stays in integer
// arithmetic.
package escrow

const (
	ResidencyResident    = "resident"
	ResidencyNonResident = "non_resident"
)

// Schedule is the platform rate card.
type Schedule struct {
	EscrowFeeBPS         int64 `json:"escrow_fee_bps" yaml:"escrow_fee_bps"`
	CommissionBPS        int64 `json:"commission_bps" yaml:"commission_bps"`
	ResidentTaxBPS       int64 `json:"resident_tax_bps" yaml:"resident_tax_bps"`
	NonResidentTaxBPS    int64 `json:"non_resident_tax_bps" yaml:"non_resident_tax_bps"`
	FirstMilestoneCapBPS int64 `json:"first_milestone_cap_bps" yaml:"first_milestone_cap_bps"`
}

// Standard is the platform default: 3% escrow fee, 8% commission, 5%
// resident / 20% non-resident withholding, 30% first-milestone cap.
var Standard = Schedule{
	EscrowFeeBPS:         300,
	CommissionBPS:        800,
	ResidentTaxBPS:       500,
	NonResidentTaxBPS:    2000,
	FirstMilestoneCapBPS: 3000,
}

// roundBPS applies a basis-point rate with round-half-up. Amounts are
// non-negative throughout.
func roundBPS(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// floorBPS applies a basis-point rate rounding down.
func floorBPS(amount, bps int64) int64 {
	return amount * bps / 10000
}

func (s Schedule) taxBPS(residency string) int64 {
	if residency == ResidencyResident {
		return s.ResidentTaxBPS
	}
	return s.NonResidentTaxBPS
}

// Fee is the escrow handling fee charged to the client on top of the
// contract amount. Zero for direct payment.
func (s Schedule) Fee(amount int64) int64 {
	return roundBPS(amount, s.EscrowFeeBPS)
}

// TotalFunding is the deposit required to activate an escrow contract.
func (s Schedule) TotalFunding(amount int64) int64 {
	return amount + s.Fee(amount)
}

// Commission is the platform cut taken from an escrow payout. Direct
// payments settle off-platform and carry no commission.
func (s Schedule) Commission(amount int64, isEscrow bool) int64 {
	if !isEscrow {
		return 0
	}
	return roundBPS(amount, s.CommissionBPS)
}

// WithholdingTax is computed on the net-of-commission amount.
func (s Schedule) WithholdingTax(netOfCommission int64, residency string) int64 {
	return roundBPS(netOfCommission, s.taxBPS(residency))
}

// TakeHome is what the creator nets from a payout after commission and tax.
func (s Schedule) TakeHome(amount int64, isEscrow bool, residency string) int64 {
	commission := s.Commission(amount, isEscrow)
	taxable := amount - commission
	return taxable - s.WithholdingTax(taxable, residency)
}

// GrossUp inverts TakeHome: the smallest nominal amount whose take-home is
// at least desiredNet. Ceiling division keeps the creator whole.
func (s Schedule) GrossUp(desiredNet int64, isEscrow bool, residency string) int64 {
	if desiredNet <= 0 {
		return 0
	}
	commissionBPS := int64(0)
	if isEscrow {
		commissionBPS = s.CommissionBPS
	}
	den := (10000 - commissionBPS) * (10000 - s.taxBPS(residency))
	num := desiredNet * 10000 * 10000
	return (num + den - 1) / den
}

// GrossUpMilestones scales every milestone amount so each nets its share of
// desiredNet, and returns the new amounts plus their sum. The total is
// resummed after the per-milestone ceiling, never rounded independently.
func (s Schedule) GrossUpMilestones(amounts []int64, isEscrow bool, residency string) ([]int64, int64) {
	out := make([]int64, len(amounts))
	var total int64
	for i, a := range amounts {
		out[i] = s.GrossUp(a, isEscrow, residency)
		total += out[i]
	}
	return out, total
}

// AutoDistribute splits total across count milestones enforcing the
// first-milestone cap by construction: the first slice is the smaller of an
// even share and the cap, the middle slices take an equal floor share, and
// the last slice absorbs the rounding remainder so the slices always sum to
// total. count must be at least 2.
func (s Schedule) AutoDistribute(total int64, count int) []int64 {
	if count < 2 || total < 0 {
		return nil
	}
	first := total / int64(count)
	if limit := floorBPS(total, s.FirstMilestoneCapBPS); first > limit {
		first = limit
	}
	remainder := total - first
	other := remainder / int64(count-1)
	slices := make([]int64, count)
	slices[0] = first
	for i := 1; i < count-1; i++ {
		slices[i] = other
	}
	slices[count-1] = remainder - other*int64(count-2)
	return slices
}

// FirstMilestoneCap is the largest amount the opening milestone may carry.
func (s Schedule) FirstMilestoneCap(total int64) int64 {
	return floorBPS(total, s.FirstMilestoneCapBPS)
}
