package categories

import "github.com/garagesale/treasury/internal/model"

// SponsorshipCategory is the credit category reports rank sponsors from.
const SponsorshipCategory = "Sponsorship"

// Defaults returns the category set a new ledger starts with. Parents are
// listed before their children.
func Defaults() []model.Category {
	return []model.Category{
		{Name: "Sale", Kind: model.KindCredit},
		{Name: "Sale: Cakes", Kind: model.KindCredit, Parent: "Sale"},
		{Name: "Sale: Refreshments", Kind: model.KindCredit, Parent: "Sale"},
		{Name: "Sale: Bric-a-brac", Kind: model.KindCredit, Parent: "Sale"},
		{Name: SponsorshipCategory, Kind: model.KindCredit},
		{Name: "Donation", Kind: model.KindCredit},
		{Name: "Billboard Fees", Kind: model.KindCredit},
		{Name: "Craft Market Pitches", Kind: model.KindCredit},
		{Name: "Bank Interest", Kind: model.KindCredit},
		{Name: "Advertisement", Kind: model.KindDebit},
		{Name: "Advertisement: Printing", Kind: model.KindDebit, Parent: "Advertisement"},
		{Name: "Advertisement: Signage", Kind: model.KindDebit, Parent: "Advertisement"},
		{Name: "Hall Hire", Kind: model.KindDebit},
		{Name: "Insurance", Kind: model.KindDebit},
		{Name: "Bank Charges", Kind: model.KindDebit},
		{Name: "Charity Donation", Kind: model.KindDebit},
	}
}
