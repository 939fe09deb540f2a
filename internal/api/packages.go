package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"alliance.ledger/internal/ledger"
)

type purchaseRequest struct {
	Package string          `json:"package"`
	Amount  decimal.Decimal `json:"amount"`
}

type claimRequest struct {
	Principal decimal.Decimal `json:"principal"`
	Profit    decimal.Decimal `json:"profit"`
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.memberParam(w, r, "packages_list", RoleAdmin)
	if !ok {
		return
	}
	active, err := s.svc.ListActivePackages(r.Context(), id)
	if err != nil {
		s.fail(w, "packages_list_failed", err, map[string]any{"member_id": id.String()})
		return
	}

	out := make([]connectionResponse, 0, len(active))
	for _, p := range active {
		out = append(out, toActivePackageResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (s *Server) handlePurchasePackage(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleMember) {
		s.forbid(w, p, "package_purchase")
		return
	}

	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent("package_purchase_failed", map[string]any{
			"reason":    "invalid_request",
			"member_id": p.ID.String(),
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	conn, e, err := s.svc.PurchasePackage(r.Context(), p.ID, req.Package, req.Amount)
	if err != nil {
		s.fail(w, "package_purchase_failed", err, map[string]any{
			"member_id": p.ID.String(),
			"package":   req.Package,
			"amount":    amountField(req.Amount),
		})
		return
	}

	s.logEvent("package_purchased", map[string]any{
		"connection_id": conn.ID.String(),
		"member_id":     p.ID.String(),
		"package":       conn.PackageName,
	})
	writeJSON(w, http.StatusCreated, purchaseResponse{
		Connection: toConnectionResponse(conn),
		Earnings:   toEarningsResponse(e),
	})
}

func (s *Server) handleClaimPackage(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !p.Is(RoleMember) {
		s.forbid(w, p, "package_claim")
		return
	}
	id, err := uuidParam(r, "connectionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent("package_claim_failed", map[string]any{
			"reason":        "invalid_request",
			"connection_id": id.String(),
		})
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.svc.ClaimPackage(r.Context(), ledger.Claim{
		ConnectionID: id,
		MemberID:     p.ID,
		Principal:    req.Principal,
		Profit:       req.Profit,
	})
	if err != nil {
		s.fail(w, "package_claim_failed", err, map[string]any{
			"connection_id": id.String(),
			"member_id":     p.ID.String(),
		})
		return
	}

	s.logEvent("package_claimed", map[string]any{
		"connection_id": id.String(),
		"member_id":     p.ID.String(),
		"payout":        money(res.Transaction.Amount),
	})
	writeJSON(w, http.StatusOK, claimResponse{
		Connection:  toConnectionResponse(res.Connection),
		Earnings:    toEarningsResponse(res.Earnings),
		Transaction: toTransactionResponse(res.Transaction),
	})
}
