package interactive

import (
	"fmt"
	"strings"

	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/livedata"
	"github.com/walletsync/walletsync-go/pkg/multisig"
)

func formatAccount(s livedata.AccountState) string {
	switch {
	case s.Loading:
		return "loading"
	case !s.Activated:
		return "not activated yet"
	}

	balances := make([]string, 0, len(s.Account.Balances))
	for _, b := range s.Account.Balances {
		balances = append(balances, b.Balance+" "+b.Asset.String())
	}
	return fmt.Sprintf("ledger %d, seq %s, signers %d, balances: %s",
		s.Account.LastModifiedLedger, s.Account.Sequence, len(s.Account.Signers), strings.Join(balances, ", "))
}

func formatEffects(effects []horizon.Effect) string {
	if len(effects) == 0 {
		return "no effects"
	}
	newest := effects[0]
	return fmt.Sprintf("%d effect(s), newest %s at %s (%s)",
		len(effects), newest.Type, newest.CreatedAt.Format("2006-01-02 15:04:05"), newest.PagingToken)
}

func formatTransactions(txs []horizon.Transaction) string {
	if len(txs) == 0 {
		return "no transactions"
	}
	newest := txs[0]
	status := "ok"
	if !newest.Successful {
		status = "failed"
	}
	return fmt.Sprintf("%d transaction(s), newest %s in ledger %d (%s)", len(txs), newest.Hash, newest.Ledger, status)
}

func formatOffers(offers []horizon.Offer) string {
	if len(offers) == 0 {
		return "no open offers"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d open offer(s)", len(offers))
	for _, o := range offers {
		fmt.Fprintf(&b, "\n    #%s sell %s %s for %s @ %s", o.ID, o.Amount, o.Selling, o.Buying, o.Price)
	}
	return b.String()
}

func formatOrderbook(ob horizon.Orderbook) string {
	best := func(levels []horizon.PriceLevel) string {
		if len(levels) == 0 {
			return "-"
		}
		return levels[0].Price + " x " + levels[0].Amount
	}
	return fmt.Sprintf("%d bid(s), %d ask(s), best bid %s, best ask %s",
		len(ob.Bids), len(ob.Asks), best(ob.Bids), best(ob.Asks))
}

func formatSignatureRequests(r livedata.SignatureRequests) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d request(s)", len(r.Requests))
	if r.LastEvent != nil {
		fmt.Fprintf(&b, " after %s of %s", r.LastEvent.Kind, r.LastEvent.Request.ID)
	}
	for _, req := range r.Requests {
		fmt.Fprintf(&b, "\n    %s %s, %d/%d signed", req.ID, req.Status, signed(req), len(req.Signers))
	}
	return b.String()
}

func signed(req multisig.Request) int {
	n := 0
	for _, s := range req.Signers {
		if s.Signed {
			n++
		}
	}
	return n
}
