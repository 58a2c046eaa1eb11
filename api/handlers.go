package api

import (
	"fmt"
	"strconv"

	"github.com/Aidin1998/lotmarket/api/responses"
	"github.com/Aidin1998/lotmarket/pkg/errors"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/Aidin1998/lotmarket/pkg/validation"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type initRequest struct {
	PaymentAsset string `json:"payment_asset" binding:"required,identifier"`
	Admin        string `json:"admin" binding:"required,identifier"`
}

// Amounts travel as decimal strings so 128-bit values survive JSON.
type createListingRequest struct {
	Owner    string `json:"owner" binding:"required,identifier"`
	Asset    string `json:"asset" binding:"required,identifier"`
	Price    string `json:"price" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
}

type updatePriceRequest struct {
	Price string `json:"price" binding:"required"`
}

type buyRequest struct {
	Buyer string `json:"buyer" binding:"omitempty,identifier"`
}

type listQuery struct {
	Owner  string `form:"owner"`
	Asset  string `form:"asset"`
	Listed bool   `form:"listed"`
	After  uint64 `form:"after"`
	Limit  int    `form:"limit" binding:"gte=0,lte=1000"`
}

type mintRequest struct {
	Asset  string `json:"asset" binding:"required,identifier"`
	Holder string `json:"holder" binding:"required,identifier"`
	Amount string `json:"amount" binding:"required"`
}

func bindError(c *gin.Context, err error) {
	if fields := validation.Describe(err); len(fields) > 0 {
		responses.BadRequest(c, "Request validation failed", fields...)
		return
	}
	responses.BadRequest(c, err.Error())
}

func parseAmount(c *gin.Context, field, raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		responses.BadRequest(c, fmt.Sprintf("%s is not a number", field),
			errors.ValidationError{Field: field, Message: err.Error(), Code: "invalid_number"})
		return decimal.Zero, false
	}
	return d, true
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		responses.BadRequest(c, "listing id must be an unsigned integer",
			errors.ValidationError{Field: "id", Message: err.Error(), Code: "invalid_id"})
		return 0, false
	}
	return id, true
}

func (s *Server) initialize(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := s.market.Initialize(c.Request.Context(), models.AssetID(req.PaymentAsset), models.Identity(req.Admin)); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Created(c, gin.H{"payment_asset": req.PaymentAsset, "admin": req.Admin}, "Marketplace initialized")
}

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.market.Config(c.Request.Context())
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, cfg)
}

func (s *Server) createListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	price, ok := parseAmount(c, "price", req.Price)
	if !ok {
		return
	}
	quantity, ok := parseAmount(c, "quantity", req.Quantity)
	if !ok {
		return
	}
	id, err := s.market.CreateListing(c.Request.Context(), authorizationFrom(c),
		models.Identity(req.Owner), models.AssetID(req.Asset), price, quantity)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Created(c, gin.H{"id": id}, "Listing created")
}

func (s *Server) getListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	l, found, err := s.market.GetListing(c.Request.Context(), id)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	if !found {
		responses.NotFound(c, fmt.Sprintf("listing %d not found", id))
		return
	}
	responses.Success(c, l)
}

func (s *Server) listListings(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	out, err := s.market.ListListings(c.Request.Context(), models.ListingFilter{
		Owner:      models.Identity(q.Owner),
		Asset:      models.AssetID(q.Asset),
		ListedOnly: q.Listed,
		AfterID:    q.After,
		Limit:      q.Limit,
	})
	if err != nil {
		responses.Fail(c, err)
		return
	}
	if out == nil {
		out = []models.Listing{}
	}
	responses.Success(c, out)
}

func (s *Server) updatePrice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	price, ok := parseAmount(c, "price", req.Price)
	if !ok {
		return
	}
	if err := s.market.UpdatePrice(c.Request.Context(), authorizationFrom(c), id, price); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"id": id, "price": price}, "Price updated")
}

func (s *Server) pauseListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.market.PauseListing(c.Request.Context(), authorizationFrom(c), id); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"id": id, "listed": false}, "Listing paused")
}

func (s *Server) unpauseListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.market.UnpauseListing(c.Request.Context(), authorizationFrom(c), id); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"id": id, "listed": true}, "Listing unpaused")
}

// buyListing buys on behalf of the body's buyer, defaulting to the caller.
func (s *Server) buyListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req buyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	authz := authorizationFrom(c)
	buyer := models.Identity(req.Buyer)
	if buyer == "" {
		buyer = authz.Identity
	}
	if err := s.market.BuyListing(c.Request.Context(), authz, buyer, id); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"id": id, "buyer": buyer}, "Listing bought")
}

func (s *Server) removeListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.market.RemoveListing(c.Request.Context(), authorizationFrom(c), id); err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"id": id}, "Listing removed")
}

func (s *Server) getBalance(c *gin.Context) {
	asset, holder := models.AssetID(c.Param("asset")), models.Identity(c.Param("holder"))
	b, err := s.market.Ledger().Balance(c.Request.Context(), asset, holder)
	if err != nil {
		responses.Fail(c, err)
		return
	}
	responses.Success(c, gin.H{"asset": asset, "holder": holder, "balance": b})
}

// streamEvents accepts ?since=<sequence> and repeated ?operation=<name>.
func (s *Server) streamEvents(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			responses.BadRequest(c, "since must be an unsigned integer")
			return
		}
		since = v
	}
	var ops []models.Operation
	for _, op := range c.QueryArray("operation") {
		ops = append(ops, models.Operation(op))
	}
	s.hub.ServeWS(c.Writer, c.Request, since, ops)
}

func (s *Server) mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}
	if err := s.minter.Mint(c.Request.Context(), models.AssetID(req.Asset), models.Identity(req.Holder), amount); err != nil {
		responses.BadRequest(c, err.Error())
		return
	}
	responses.Success(c, gin.H{"asset": req.Asset, "holder": req.Holder, "minted": amount}, "Minted")
}
