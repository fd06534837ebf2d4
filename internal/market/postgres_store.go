package market

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/solmarket/internal/quanta"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists marketplace entities in PostgreSQL, following the
// same explicit-column-list style as the teacher's internal/stakes and
// internal/ledger Postgres stores. Quanta amounts and timestamps are stored
// as BIGINT: this assumes amounts stay within int64 range, true for any
// realistic native-currency denomination.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func pk(p quanta.Pubkey) []byte { return p[:] }

func toPubkey(b []byte) quanta.Pubkey {
	var p quanta.Pubkey
	copy(p[:], b)
	return p
}

func nullPubkey(p *quanta.Pubkey) []byte {
	if p == nil {
		return nil
	}
	return p[:]
}

func fromNullPubkey(b []byte) *quanta.Pubkey {
	if b == nil {
		return nil
	}
	p := toPubkey(b)
	return &p
}

// --- Config ---

func (s *PostgresStore) GetConfig(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	var admin, treasury, backend []byte
	var pendingAdminKey, pendingTreasuryKey []byte
	var pendingAdminAt, pendingTreasuryAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT admin, treasury, backend_authority, platform_fee_bps, dispute_fee_bps,
			total_volume, total_sales, paused,
			pending_admin_key, pending_admin_at, pending_treasury_key, pending_treasury_at, version
		FROM marketplace_config WHERE id = 1`,
	).Scan(&admin, &treasury, &backend, &cfg.PlatformFeeBPS, &cfg.DisputeFeeBPS,
		&cfg.TotalVolume, &cfg.TotalSales, &cfg.Paused,
		&pendingAdminKey, &pendingAdminAt, &pendingTreasuryKey, &pendingTreasuryAt, &cfg.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.Admin = toPubkey(admin)
	cfg.Treasury = toPubkey(treasury)
	cfg.BackendAuthority = toPubkey(backend)
	if pendingAdminKey != nil {
		cfg.PendingAdmin = &PendingKeyChange{Key: toPubkey(pendingAdminKey), ProposedAt: pendingAdminAt.Int64}
	}
	if pendingTreasuryKey != nil {
		cfg.PendingTreasury = &PendingKeyChange{Key: toPubkey(pendingTreasuryKey), ProposedAt: pendingTreasuryAt.Int64}
	}
	return cfg, nil
}

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO marketplace_config (id, admin, treasury, backend_authority, platform_fee_bps,
			dispute_fee_bps, total_volume, total_sales, paused, version)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pk(cfg.Admin), pk(cfg.Treasury), pk(cfg.BackendAuthority), cfg.PlatformFeeBPS,
		cfg.DisputeFeeBPS, cfg.TotalVolume, cfg.TotalSales, cfg.Paused, cfg.Version)
	return err
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg *Config) error {
	var pendingAdminKey, pendingTreasuryKey []byte
	var pendingAdminAt, pendingTreasuryAt *int64
	if cfg.PendingAdmin != nil {
		pendingAdminKey = pk(cfg.PendingAdmin.Key)
		pendingAdminAt = &cfg.PendingAdmin.ProposedAt
	}
	if cfg.PendingTreasury != nil {
		pendingTreasuryKey = pk(cfg.PendingTreasury.Key)
		pendingTreasuryAt = &cfg.PendingTreasury.ProposedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE marketplace_config SET admin=$1, treasury=$2, backend_authority=$3,
			platform_fee_bps=$4, dispute_fee_bps=$5, total_volume=$6, total_sales=$7,
			paused=$8, pending_admin_key=$9, pending_admin_at=$10,
			pending_treasury_key=$11, pending_treasury_at=$12, version=version+1
		WHERE id = 1 AND version = $13`,
		pk(cfg.Admin), pk(cfg.Treasury), pk(cfg.BackendAuthority), cfg.PlatformFeeBPS,
		cfg.DisputeFeeBPS, cfg.TotalVolume, cfg.TotalSales, cfg.Paused,
		pendingAdminKey, pendingAdminAt, pendingTreasuryKey, pendingTreasuryAt, cfg.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Listing ---

func (s *PostgresStore) CreateListing(ctx context.Context, l *Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (key, seller, listing_id, salt, type, starting_price, reserve_price,
			buy_now_price, current_bid, current_bidder, created_at, auction_started,
			auction_start_time, end_time, status, platform_fee_bps, dispute_fee_bps,
			payment_mint, required_handle, withdrawal_count, offer_count, last_bidder,
			consecutive_bid_count, last_offer_buyer, consecutive_offer_count, bump, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		pk(l.Key), pk(l.Seller), l.ListingID, int64(l.Salt), l.Type, l.StartingPrice, l.ReservePrice,
		l.BuyNowPrice, l.CurrentBid, nullPubkey(l.CurrentBidder), l.CreatedAt, l.AuctionStarted,
		l.AuctionStartTime, l.EndTime, l.Status, l.PlatformFeeBPS, l.DisputeFeeBPS,
		nullPubkey(l.PaymentMint), l.RequiredHandle, l.WithdrawalCount, l.OfferCount,
		nullPubkey(l.LastBidder), l.ConsecutiveBidCount, nullPubkey(l.LastOfferBuyer),
		l.ConsecutiveOfferCount, l.Bump, l.Version)
	return err
}

func scanListing(row interface{ Scan(...any) error }) (*Listing, error) {
	l := &Listing{}
	var key, seller []byte
	var salt int64
	var currentBidder, paymentMint, lastBidder, lastOfferBuyer []byte
	err := row.Scan(&key, &seller, &l.ListingID, &salt, &l.Type, &l.StartingPrice, &l.ReservePrice,
		&l.BuyNowPrice, &l.CurrentBid, &currentBidder, &l.CreatedAt, &l.AuctionStarted,
		&l.AuctionStartTime, &l.EndTime, &l.Status, &l.PlatformFeeBPS, &l.DisputeFeeBPS,
		&paymentMint, &l.RequiredHandle, &l.WithdrawalCount, &l.OfferCount,
		&lastBidder, &l.ConsecutiveBidCount, &lastOfferBuyer, &l.ConsecutiveOfferCount,
		&l.Bump, &l.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Key, l.Seller = toPubkey(key), toPubkey(seller)
	l.Salt = uint64(salt)
	l.CurrentBidder = fromNullPubkey(currentBidder)
	l.PaymentMint = fromNullPubkey(paymentMint)
	l.LastBidder = fromNullPubkey(lastBidder)
	l.LastOfferBuyer = fromNullPubkey(lastOfferBuyer)
	return l, nil
}

const listingColumns = `key, seller, listing_id, salt, type, starting_price, reserve_price,
		buy_now_price, current_bid, current_bidder, created_at, auction_started,
		auction_start_time, end_time, status, platform_fee_bps, dispute_fee_bps,
		payment_mint, required_handle, withdrawal_count, offer_count, last_bidder,
		consecutive_bid_count, last_offer_buyer, consecutive_offer_count, bump, version`

func (s *PostgresStore) GetListing(ctx context.Context, key quanta.Pubkey) (*Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE key = $1`, pk(key))
	return scanListing(row)
}

func (s *PostgresStore) UpdateListing(ctx context.Context, l *Listing) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET current_bid=$2, current_bidder=$3, auction_started=$4,
			auction_start_time=$5, end_time=$6, status=$7, withdrawal_count=$8, offer_count=$9,
			last_bidder=$10, consecutive_bid_count=$11, last_offer_buyer=$12,
			consecutive_offer_count=$13, version=version+1
		WHERE key=$1 AND version=$14`,
		pk(l.Key), l.CurrentBid, nullPubkey(l.CurrentBidder), l.AuctionStarted,
		l.AuctionStartTime, l.EndTime, l.Status, l.WithdrawalCount, l.OfferCount,
		nullPubkey(l.LastBidder), l.ConsecutiveBidCount, nullPubkey(l.LastOfferBuyer),
		l.ConsecutiveOfferCount, l.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListActiveListings(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, ListingStatusActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// --- Escrow ---

func (s *PostgresStore) CreateEscrow(ctx context.Context, e *Escrow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrows (key, listing, amount, bump, version) VALUES ($1,$2,$3,$4,$5)`,
		pk(e.Key), pk(e.Listing), e.Amount, e.Bump, e.Version)
	return err
}

func scanEscrow(row interface{ Scan(...any) error }) (*Escrow, error) {
	e := &Escrow{}
	var key, listing []byte
	err := row.Scan(&key, &listing, &e.Amount, &e.Bump, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Key, e.Listing = toPubkey(key), toPubkey(listing)
	return e, nil
}

func (s *PostgresStore) GetEscrow(ctx context.Context, key quanta.Pubkey) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, listing, amount, bump, version FROM escrows WHERE key=$1`, pk(key))
	return scanEscrow(row)
}

func (s *PostgresStore) GetEscrowByListing(ctx context.Context, listing quanta.Pubkey) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, listing, amount, bump, version FROM escrows WHERE listing=$1`, pk(listing))
	return scanEscrow(row)
}

func (s *PostgresStore) UpdateEscrow(ctx context.Context, e *Escrow) error {
	res, err := s.db.ExecContext(ctx, `UPDATE escrows SET amount=$2, version=version+1 WHERE key=$1 AND version=$3`,
		pk(e.Key), e.Amount, e.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) DeleteEscrow(ctx context.Context, key quanta.Pubkey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM escrows WHERE key=$1`, pk(key))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- Transaction ---

func (s *PostgresStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (key, listing, seller, buyer, sale_price, platform_fee,
			seller_proceeds, status, transfer_deadline, created_at, seller_confirmed_transfer,
			seller_confirmed_at, completed_at, uploads_verified, verification_timestamp,
			verification_hash, bump, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		pk(t.Key), pk(t.Listing), pk(t.Seller), pk(t.Buyer), t.SalePrice, t.PlatformFee,
		t.SellerProceeds, t.Status, t.TransferDeadline, t.CreatedAt, t.SellerConfirmedTransfer,
		t.SellerConfirmedAt, t.CompletedAt, t.UploadsVerified, t.VerificationTimestamp,
		t.VerificationHash, t.Bump, t.Version)
	return err
}

const txColumns = `key, listing, seller, buyer, sale_price, platform_fee, seller_proceeds, status,
		transfer_deadline, created_at, seller_confirmed_transfer, seller_confirmed_at,
		completed_at, uploads_verified, verification_timestamp, verification_hash, bump, version`

func scanTransaction(row interface{ Scan(...any) error }) (*Transaction, error) {
	t := &Transaction{}
	var key, listing, seller, buyer []byte
	err := row.Scan(&key, &listing, &seller, &buyer, &t.SalePrice, &t.PlatformFee, &t.SellerProceeds,
		&t.Status, &t.TransferDeadline, &t.CreatedAt, &t.SellerConfirmedTransfer, &t.SellerConfirmedAt,
		&t.CompletedAt, &t.UploadsVerified, &t.VerificationTimestamp, &t.VerificationHash, &t.Bump, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Key, t.Listing, t.Seller, t.Buyer = toPubkey(key), toPubkey(listing), toPubkey(seller), toPubkey(buyer)
	return t, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, key quanta.Pubkey) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE key=$1`, pk(key))
	return scanTransaction(row)
}

func (s *PostgresStore) GetTransactionByListing(ctx context.Context, listing quanta.Pubkey) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE listing=$1`, pk(listing))
	return scanTransaction(row)
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, t *Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status=$2, seller_confirmed_transfer=$3, seller_confirmed_at=$4,
			completed_at=$5, uploads_verified=$6, verification_timestamp=$7, verification_hash=$8,
			version=version+1
		WHERE key=$1 AND version=$9`,
		pk(t.Key), t.Status, t.SellerConfirmedTransfer, t.SellerConfirmedAt, t.CompletedAt,
		t.UploadsVerified, t.VerificationTimestamp, t.VerificationHash, t.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- Dispute ---

func (s *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	resKind, resBuyer, resSeller := resolutionColumns(d.Resolution)
	pendKind, pendBuyer, pendSeller := resolutionColumns(d.PendingResolution)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (key, transaction, initiator, respondent, reason, status,
			resolution_kind, resolution_buyer_amount, resolution_seller_amount, resolution_notes,
			dispute_fee, created_at, resolved_at, pending_resolution_kind,
			pending_resolution_buyer_amount, pending_resolution_seller_amount,
			pending_resolution_at, contested, bump, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		pk(d.Key), pk(d.Transaction), pk(d.Initiator), pk(d.Respondent), d.Reason, d.Status,
		resKind, resBuyer, resSeller, d.ResolutionNotes, d.DisputeFee, d.CreatedAt, d.ResolvedAt,
		pendKind, pendBuyer, pendSeller, d.PendingResolutionAt, d.Contested, d.Bump, d.Version)
	return err
}

func resolutionColumns(r *DisputeResolution) (kind *ResolutionKind, buyer, seller *uint64) {
	if r == nil {
		return nil, nil, nil
	}
	k := r.Kind
	return &k, &r.BuyerAmount, &r.SellerAmount
}

func resolutionFromColumns(kind *ResolutionKind, buyer, seller *uint64) *DisputeResolution {
	if kind == nil {
		return nil
	}
	r := &DisputeResolution{Kind: *kind}
	if buyer != nil {
		r.BuyerAmount = *buyer
	}
	if seller != nil {
		r.SellerAmount = *seller
	}
	return r
}

const disputeColumns = `key, transaction, initiator, respondent, reason, status,
		resolution_kind, resolution_buyer_amount, resolution_seller_amount, resolution_notes,
		dispute_fee, created_at, resolved_at, pending_resolution_kind,
		pending_resolution_buyer_amount, pending_resolution_seller_amount,
		pending_resolution_at, contested, bump, version`

func scanDispute(row interface{ Scan(...any) error }) (*Dispute, error) {
	d := &Dispute{}
	var key, transaction, initiator, respondent []byte
	var resKind, pendKind *ResolutionKind
	var resBuyer, resSeller, pendBuyer, pendSeller *uint64
	err := row.Scan(&key, &transaction, &initiator, &respondent, &d.Reason, &d.Status,
		&resKind, &resBuyer, &resSeller, &d.ResolutionNotes, &d.DisputeFee, &d.CreatedAt,
		&d.ResolvedAt, &pendKind, &pendBuyer, &pendSeller, &d.PendingResolutionAt, &d.Contested,
		&d.Bump, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Key, d.Transaction = toPubkey(key), toPubkey(transaction)
	d.Initiator, d.Respondent = toPubkey(initiator), toPubkey(respondent)
	d.Resolution = resolutionFromColumns(resKind, resBuyer, resSeller)
	d.PendingResolution = resolutionFromColumns(pendKind, pendBuyer, pendSeller)
	return d, nil
}

func (s *PostgresStore) GetDispute(ctx context.Context, key quanta.Pubkey) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE key=$1`, pk(key))
	return scanDispute(row)
}

func (s *PostgresStore) GetDisputeByTransaction(ctx context.Context, tx quanta.Pubkey) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE transaction=$1`, pk(tx))
	return scanDispute(row)
}

func (s *PostgresStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	resKind, resBuyer, resSeller := resolutionColumns(d.Resolution)
	pendKind, pendBuyer, pendSeller := resolutionColumns(d.PendingResolution)
	res, err := s.db.ExecContext(ctx, `
		UPDATE disputes SET status=$2, resolution_kind=$3, resolution_buyer_amount=$4,
			resolution_seller_amount=$5, resolution_notes=$6, resolved_at=$7,
			pending_resolution_kind=$8, pending_resolution_buyer_amount=$9,
			pending_resolution_seller_amount=$10, pending_resolution_at=$11, contested=$12,
			version=version+1
		WHERE key=$1 AND version=$13`,
		pk(d.Key), d.Status, resKind, resBuyer, resSeller, d.ResolutionNotes, d.ResolvedAt,
		pendKind, pendBuyer, pendSeller, d.PendingResolutionAt, d.Contested, d.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) DeleteDispute(ctx context.Context, key quanta.Pubkey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM disputes WHERE key=$1`, pk(key))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- Offer ---

func (s *PostgresStore) CreateOffer(ctx context.Context, o *Offer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (key, listing, buyer, offer_seed, amount, deadline, status, created_at, bump, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		pk(o.Key), pk(o.Listing), pk(o.Buyer), int64(o.OfferSeed), o.Amount, o.Deadline,
		o.Status, o.CreatedAt, o.Bump, o.Version)
	return err
}

const offerColumns = `key, listing, buyer, offer_seed, amount, deadline, status, created_at, bump, version`

func scanOffer(row interface{ Scan(...any) error }) (*Offer, error) {
	o := &Offer{}
	var key, listing, buyer []byte
	var seed int64
	err := row.Scan(&key, &listing, &buyer, &seed, &o.Amount, &o.Deadline, &o.Status, &o.CreatedAt, &o.Bump, &o.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Key, o.Listing, o.Buyer = toPubkey(key), toPubkey(listing), toPubkey(buyer)
	o.OfferSeed = uint64(seed)
	return o, nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, key quanta.Pubkey) (*Offer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE key=$1`, pk(key))
	return scanOffer(row)
}

func (s *PostgresStore) UpdateOffer(ctx context.Context, o *Offer) error {
	res, err := s.db.ExecContext(ctx, `UPDATE offers SET status=$2, version=version+1 WHERE key=$1 AND version=$3`,
		pk(o.Key), o.Status, o.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListOffersByListing(ctx context.Context, listing quanta.Pubkey) ([]*Offer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE listing=$1 ORDER BY created_at`, pk(listing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// --- OfferEscrow ---

func (s *PostgresStore) CreateOfferEscrow(ctx context.Context, oe *OfferEscrow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO offer_escrows (key, offer, amount, bump, version) VALUES ($1,$2,$3,$4,$5)`,
		pk(oe.Key), pk(oe.Offer), oe.Amount, oe.Bump, oe.Version)
	return err
}

func scanOfferEscrow(row interface{ Scan(...any) error }) (*OfferEscrow, error) {
	oe := &OfferEscrow{}
	var key, offer []byte
	err := row.Scan(&key, &offer, &oe.Amount, &oe.Bump, &oe.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	oe.Key, oe.Offer = toPubkey(key), toPubkey(offer)
	return oe, nil
}

func (s *PostgresStore) GetOfferEscrow(ctx context.Context, key quanta.Pubkey) (*OfferEscrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, offer, amount, bump, version FROM offer_escrows WHERE key=$1`, pk(key))
	return scanOfferEscrow(row)
}

func (s *PostgresStore) GetOfferEscrowByOffer(ctx context.Context, offer quanta.Pubkey) (*OfferEscrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, offer, amount, bump, version FROM offer_escrows WHERE offer=$1`, pk(offer))
	return scanOfferEscrow(row)
}

func (s *PostgresStore) UpdateOfferEscrow(ctx context.Context, oe *OfferEscrow) error {
	res, err := s.db.ExecContext(ctx, `UPDATE offer_escrows SET amount=$2, version=version+1 WHERE key=$1 AND version=$3`,
		pk(oe.Key), oe.Amount, oe.Version)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) DeleteOfferEscrow(ctx context.Context, key quanta.Pubkey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offer_escrows WHERE key=$1`, pk(key))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// --- PendingWithdrawal ---

func (s *PostgresStore) CreatePendingWithdrawal(ctx context.Context, w *PendingWithdrawal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_withdrawals (key, "user", listing, amount, withdrawal_id, created_at, expires_at, bump, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		pk(w.Key), pk(w.User), pk(w.Listing), w.Amount, int64(w.WithdrawalID), w.CreatedAt, w.ExpiresAt, w.Bump, w.Version)
	return err
}

const withdrawalColumns = `key, "user", listing, amount, withdrawal_id, created_at, expires_at, bump, version`

func scanWithdrawal(row interface{ Scan(...any) error }) (*PendingWithdrawal, error) {
	w := &PendingWithdrawal{}
	var key, user, listing []byte
	var wid int64
	err := row.Scan(&key, &user, &listing, &w.Amount, &wid, &w.CreatedAt, &w.ExpiresAt, &w.Bump, &w.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Key, w.User, w.Listing = toPubkey(key), toPubkey(user), toPubkey(listing)
	w.WithdrawalID = uint64(wid)
	return w, nil
}

func (s *PostgresStore) GetPendingWithdrawal(ctx context.Context, key quanta.Pubkey) (*PendingWithdrawal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM pending_withdrawals WHERE key=$1`, pk(key))
	return scanWithdrawal(row)
}

func (s *PostgresStore) DeletePendingWithdrawal(ctx context.Context, key quanta.Pubkey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_withdrawals WHERE key=$1`, pk(key))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListPendingWithdrawalsByListing(ctx context.Context, listing quanta.Pubkey) ([]*PendingWithdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+withdrawalColumns+` FROM pending_withdrawals WHERE listing=$1 ORDER BY withdrawal_id`, pk(listing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*PendingWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListExpiredPendingWithdrawals(ctx context.Context, now int64, limit int) ([]*PendingWithdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+withdrawalColumns+` FROM pending_withdrawals
		WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*PendingWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
