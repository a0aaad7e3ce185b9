package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repo is the Postgres Store. Row locks (SELECT ... FOR UPDATE) taken inside
// InTx serialize concurrent mutations of the same user, order or code.
type Repo struct {
	DB DB
	// MaxRetries bounds re-runs of a unit that failed with a serialization
	// failure or deadlock.
	MaxRetries int
}

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= r.MaxRetries {
			return err
		}
	}
}

func (r *Repo) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func parseNullableTime(v pgtype.Text) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := ParseTime(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseStamp(s string) time.Time {
	t, _ := ParseTime(s)
	return t
}

func nullableInt(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// ---- users ----

const userColumns = `user_id, username, first_name, wallet_balance, ref_by, ref_count, earnings_total, created_at, updated_at`

func (t *pgTx) UpsertUser(ctx context.Context, u User) error {
	now := FormatTime(u.UpdatedAt)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users(user_id, username, first_name, wallet_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username, first_name = EXCLUDED.first_name, updated_at = EXCLUDED.updated_at`,
		u.ID, u.Username, u.FirstName, now)
	return mapErr(err)
}

func (t *pgTx) GetUser(ctx context.Context, id int64, lock bool) (User, error) {
	var (
		u                User
		refBy            pgtype.Int8
		created, updated string
	)
	err := t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`+forUpdate(lock), id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.WalletBalance, &refBy, &u.RefCount, &u.EarningsTotal, &created, &updated)
	if err != nil {
		return User{}, mapErr(err)
	}
	u.RefBy = nullableInt(refBy)
	u.CreatedAt = parseStamp(created)
	u.UpdatedAt = parseStamp(updated)
	return u, nil
}

func (t *pgTx) SetUserBalance(ctx context.Context, id, balance int64, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE users SET wallet_balance=$2, updated_at=$3 WHERE user_id=$1`, id, balance, FormatTime(at))
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// ---- wallet log ----

const walletColumns = `id, user_id, order_id, amount, type, note, created_at`

func (t *pgTx) InsertWalletTx(ctx context.Context, w WalletTx) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO wallet_tx(user_id, order_id, amount, type, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		w.UserID, w.OrderID, w.Amount, string(w.Type), w.Note, FormatTime(w.CreatedAt)).Scan(&id)
	return id, mapErr(err)
}

func scanWalletRows(rows pgx.Rows) ([]WalletTx, error) {
	defer rows.Close()
	var out []WalletTx
	for rows.Next() {
		var (
			w       WalletTx
			orderID pgtype.Int8
			typ     string
			created string
		)
		if err := rows.Scan(&w.ID, &w.UserID, &orderID, &w.Amount, &typ, &w.Note, &created); err != nil {
			return nil, err
		}
		w.OrderID = nullableInt(orderID)
		w.Type = TxType(typ)
		w.CreatedAt = parseStamp(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) ListWalletTx(ctx context.Context, userID int64, limit int) ([]WalletTx, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallet_tx
		WHERE user_id=$1 ORDER BY id DESC LIMIT NULLIF($2::int, 0)`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanWalletRows(rows)
}

func (t *pgTx) ListOrderWalletTx(ctx context.Context, orderID int64) ([]WalletTx, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallet_tx WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return scanWalletRows(rows)
}

func (t *pgTx) SumWalletTx(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type IN ('CREDIT','REFUND') THEN amount ELSE -amount END), 0)::bigint
		FROM wallet_tx WHERE user_id=$1`, userID).Scan(&sum)
	return sum, mapErr(err)
}

// ---- orders ----

var orderFields = []string{
	"user_id", "username", "first_name", "plan_title",
	"amount_total", "currency", "service_category", "service_code",
	"account_mode", "customer_email", "notes", "customer_secret",
	"require_username", "require_password", "customer_username", "customer_password", "allow_first_plan",
	"cashback_percent", "cashback_applied_amount",
	"discount_id", "discount_code", "discount_amount",
	"status", "payment_type", "wallet_reserved_amount", "wallet_used_amount", "await_deadline",
	"receipt_file_id", "receipt_text", "receipt_kind", "customer_message", "manager_note", "cost_amount",
	"created_at", "updated_at",
}

var orderColumns = "id, " + strings.Join(orderFields, ", ")

func orderArgs(o Order) []any {
	var ptype *string
	if o.PaymentType != PaymentNone {
		s := string(o.PaymentType)
		ptype = &s
	}
	return []any{
		o.UserID, o.Username, o.FirstName, o.Title,
		o.AmountTotal, o.Currency, o.ServiceCategory, o.ServiceCode,
		o.AccountMode, o.CustomerEmail, o.Notes, o.CustomerSecret,
		o.RequireUsername, o.RequirePassword, o.CustomerUsername, o.CustomerPassword, o.AllowFirstPlan,
		o.CashbackPercent, o.CashbackAppliedAmount,
		o.DiscountID, o.DiscountCode, o.DiscountAmount,
		string(o.Status), ptype, o.WalletReservedAmount, o.WalletUsedAmount, nullableTime(o.AwaitDeadline),
		o.ReceiptFileID, o.ReceiptText, o.ReceiptKind, o.CustomerMessage, o.ManagerNote, o.CostAmount,
		FormatTime(o.CreatedAt), FormatTime(o.UpdatedAt),
	}
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                Order
		discountID       pgtype.Int8
		status           string
		ptype, deadline  pgtype.Text
		created, updated string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Username, &o.FirstName, &o.Title,
		&o.AmountTotal, &o.Currency, &o.ServiceCategory, &o.ServiceCode,
		&o.AccountMode, &o.CustomerEmail, &o.Notes, &o.CustomerSecret,
		&o.RequireUsername, &o.RequirePassword, &o.CustomerUsername, &o.CustomerPassword, &o.AllowFirstPlan,
		&o.CashbackPercent, &o.CashbackAppliedAmount,
		&discountID, &o.DiscountCode, &o.DiscountAmount,
		&status, &ptype, &o.WalletReservedAmount, &o.WalletUsedAmount, &deadline,
		&o.ReceiptFileID, &o.ReceiptText, &o.ReceiptKind, &o.CustomerMessage, &o.ManagerNote, &o.CostAmount,
		&created, &updated,
	)
	if err != nil {
		return Order{}, err
	}
	o.DiscountID = nullableInt(discountID)
	o.Status = Status(status)
	if ptype.Valid {
		o.PaymentType = PaymentType(ptype.String)
	}
	o.AwaitDeadline = parseNullableTime(deadline)
	o.CreatedAt = parseStamp(created)
	o.UpdatedAt = parseStamp(updated)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ensureOrderFloor moves the id sequence so the next id is at least minID.
func (t *pgTx) ensureOrderFloor(ctx context.Context, minID int64) error {
	if minID <= 1 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		SELECT setval('orders_id_seq', $1::bigint - 1, true)
		FROM orders_id_seq
		WHERE (CASE WHEN is_called THEN last_value + 1 ELSE last_value END) < $1::bigint`, minID)
	return err
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order, minID int64) (int64, error) {
	if err := t.ensureOrderFloor(ctx, minID); err != nil {
		return 0, fmt.Errorf("order id floor: %w", err)
	}
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders(`+strings.Join(orderFields, ", ")+`) VALUES (`+placeholders(1, len(orderFields))+`) RETURNING id`,
		orderArgs(o)...).Scan(&id)
	return id, mapErr(err)
}

func (t *pgTx) GetOrder(ctx context.Context, id int64, lock bool) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`+forUpdate(lock), id))
	return o, mapErr(err)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o Order) error {
	sets := make([]string, len(orderFields))
	for i, f := range orderFields {
		sets[i] = fmt.Sprintf("%s=$%d", f, i+2)
	}
	args := append([]any{o.ID}, orderArgs(o)...)
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListUserOrders(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return scanOrderRows(rows)
}

func (t *pgTx) ListExpiredOrders(ctx context.Context, now time.Time) ([]Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND await_deadline IS NOT NULL AND await_deadline <> '' AND await_deadline <= $2
		ORDER BY id`, string(StatusAwaitingPayment), FormatTime(now))
	if err != nil {
		return nil, err
	}
	return scanOrderRows(rows)
}

func (t *pgTx) InsertManagerMessage(ctx context.Context, m ManagerMessage) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_manager_messages(order_id, user_id, message_text, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		m.OrderID, m.UserID, m.Text, FormatTime(m.CreatedAt)).Scan(&id)
	return id, mapErr(err)
}

func (t *pgTx) ListManagerMessages(ctx context.Context, orderID int64, limit int) ([]ManagerMessage, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, user_id, message_text, created_at
		FROM order_manager_messages WHERE order_id=$1 ORDER BY id DESC LIMIT NULLIF($2::int, 0)`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ManagerMessage
	for rows.Next() {
		var (
			m       ManagerMessage
			userID  pgtype.Int8
			created string
		)
		if err := rows.Scan(&m.ID, &m.OrderID, &userID, &m.Text, &created); err != nil {
			return nil, err
		}
		m.UserID = nullableInt(userID)
		m.CreatedAt = parseStamp(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- coupons & discounts ----

const promoColumns = `id, code, amount, usage_limit, usage_limit_per_user, used_count, is_active, expires_at, created_at, updated_at`

func promoTable(kind PromoKind) string {
	if kind == KindDiscount {
		return "discounts"
	}
	return "coupons"
}

func scanPromotion(dest *Promotion, extra ...any) []any {
	return append([]any{
		&dest.ID, &dest.Code, &dest.Amount, &dest.UsageLimit, &dest.UsageLimitPerUser,
		&dest.UsedCount, &dest.IsActive,
	}, extra...)
}

type promoStamps struct {
	expires          pgtype.Text
	created, updated string
}

func (s promoStamps) apply(p *Promotion) {
	p.ExpiresAt = parseNullableTime(s.expires)
	p.CreatedAt = parseStamp(s.created)
	p.UpdatedAt = parseStamp(s.updated)
}

func scanCoupon(row pgx.Row) (Coupon, error) {
	var (
		c  Coupon
		st promoStamps
	)
	if err := row.Scan(scanPromotion(&c.Promotion, &st.expires, &st.created, &st.updated)...); err != nil {
		return Coupon{}, err
	}
	st.apply(&c.Promotion)
	return c, nil
}

func scanDiscount(row pgx.Row) (Discount, error) {
	var (
		d  Discount
		st promoStamps
	)
	if err := row.Scan(scanPromotion(&d.Promotion, &st.expires, &st.created, &st.updated, &d.AppliesAll, &d.ProductIDs)...); err != nil {
		return Discount{}, err
	}
	st.apply(&d.Promotion)
	return d, nil
}

func (t *pgTx) InsertCoupon(ctx context.Context, c Coupon) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO coupons(code, amount, usage_limit, usage_limit_per_user, used_count, is_active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		c.Code, c.Amount, c.UsageLimit, c.UsageLimitPerUser, c.UsedCount, c.IsActive,
		nullableTime(c.ExpiresAt), FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt)).Scan(&id)
	return id, mapErr(err)
}

func (t *pgTx) UpdateCoupon(ctx context.Context, c Coupon) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE coupons SET code=$2, amount=$3, usage_limit=$4, usage_limit_per_user=$5,
		       is_active=$6, expires_at=$7, updated_at=$8
		WHERE id=$1`,
		c.ID, c.Code, c.Amount, c.UsageLimit, c.UsageLimitPerUser, c.IsActive,
		nullableTime(c.ExpiresAt), FormatTime(c.UpdatedAt))
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) deletePromo(ctx context.Context, kind PromoKind, id int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM `+promoTable(kind)+` WHERE id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteCoupon(ctx context.Context, id int64) error {
	return t.deletePromo(ctx, KindCoupon, id)
}

func (t *pgTx) GetCoupon(ctx context.Context, id int64) (Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRow(ctx, `SELECT `+promoColumns+` FROM coupons WHERE id=$1`, id))
	return c, mapErr(err)
}

func (t *pgTx) GetCouponByCode(ctx context.Context, code string, lock bool) (Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRow(ctx,
		`SELECT `+promoColumns+` FROM coupons WHERE UPPER(code)=$1`+forUpdate(lock), NormalizeCode(code)))
	return c, mapErr(err)
}

func (t *pgTx) ListCoupons(ctx context.Context, limit, offset int) ([]Coupon, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+promoColumns+` FROM coupons
		ORDER BY created_at DESC, id DESC LIMIT NULLIF($1::int, 0) OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const discountColumns = promoColumns + `, applies_all, product_ids`

func (t *pgTx) InsertDiscount(ctx context.Context, d Discount) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO discounts(code, amount, usage_limit, usage_limit_per_user, used_count, is_active,
		                      expires_at, created_at, updated_at, applies_all, product_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		d.Code, d.Amount, d.UsageLimit, d.UsageLimitPerUser, d.UsedCount, d.IsActive,
		nullableTime(d.ExpiresAt), FormatTime(d.CreatedAt), FormatTime(d.UpdatedAt),
		d.AppliesAll, productIDs(d.ProductIDs)).Scan(&id)
	return id, mapErr(err)
}

func productIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func (t *pgTx) UpdateDiscount(ctx context.Context, d Discount) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE discounts SET code=$2, amount=$3, usage_limit=$4, usage_limit_per_user=$5,
		       is_active=$6, expires_at=$7, updated_at=$8, applies_all=$9, product_ids=$10
		WHERE id=$1`,
		d.ID, d.Code, d.Amount, d.UsageLimit, d.UsageLimitPerUser, d.IsActive,
		nullableTime(d.ExpiresAt), FormatTime(d.UpdatedAt), d.AppliesAll, productIDs(d.ProductIDs))
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteDiscount(ctx context.Context, id int64) error {
	return t.deletePromo(ctx, KindDiscount, id)
}

func (t *pgTx) GetDiscount(ctx context.Context, id int64) (Discount, error) {
	d, err := scanDiscount(t.tx.QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id=$1`, id))
	return d, mapErr(err)
}

func (t *pgTx) GetDiscountByCode(ctx context.Context, code string, lock bool) (Discount, error) {
	d, err := scanDiscount(t.tx.QueryRow(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE UPPER(code)=$1`+forUpdate(lock), NormalizeCode(code)))
	return d, mapErr(err)
}

func (t *pgTx) ListDiscounts(ctx context.Context, limit, offset int) ([]Discount, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+discountColumns+` FROM discounts
		ORDER BY created_at DESC, id DESC LIMIT NULLIF($1::int, 0) OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- redemptions ----

func redemptionTable(kind PromoKind) (table, fk string) {
	if kind == KindDiscount {
		return "discount_redemptions", "discount_id"
	}
	return "coupon_redemptions", "coupon_id"
}

func scanRedemption(row pgx.Row) (Redemption, error) {
	var (
		r        Redemption
		orderID  pgtype.Int8
		redeemed string
	)
	if err := row.Scan(&r.ID, &r.PromotionID, &r.UserID, &orderID, &r.Amount, &r.TimesUsed, &redeemed); err != nil {
		return Redemption{}, err
	}
	r.OrderID = nullableInt(orderID)
	r.RedeemedAt = parseStamp(redeemed)
	return r, nil
}

func (t *pgTx) GetRedemption(ctx context.Context, kind PromoKind, promoID, userID int64, lock bool) (Redemption, error) {
	table, fk := redemptionTable(kind)
	r, err := scanRedemption(t.tx.QueryRow(ctx,
		`SELECT id, `+fk+`, user_id, order_id, amount, times_used, redeemed_at FROM `+table+`
		 WHERE `+fk+`=$1 AND user_id=$2`+forUpdate(lock), promoID, userID))
	return r, mapErr(err)
}

func (t *pgTx) SaveRedemption(ctx context.Context, kind PromoKind, r Redemption) error {
	table, fk := redemptionTable(kind)
	if r.ID == 0 {
		_, err := t.tx.Exec(ctx, `INSERT INTO `+table+`(`+fk+`, user_id, order_id, amount, times_used, redeemed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.PromotionID, r.UserID, r.OrderID, r.Amount, r.TimesUsed, FormatTime(r.RedeemedAt))
		return mapErr(err)
	}
	_, err := t.tx.Exec(ctx, `UPDATE `+table+` SET times_used=$2, order_id=$3, redeemed_at=$4 WHERE id=$1`,
		r.ID, r.TimesUsed, r.OrderID, FormatTime(r.RedeemedAt))
	return mapErr(err)
}

func (t *pgTx) ListRedemptions(ctx context.Context, kind PromoKind, promoID int64) ([]Redemption, error) {
	table, fk := redemptionTable(kind)
	rows, err := t.tx.Query(ctx, `SELECT id, `+fk+`, user_id, order_id, amount, times_used, redeemed_at
		FROM `+table+` WHERE `+fk+`=$1 ORDER BY redeemed_at DESC, id DESC`, promoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) IncrementUsedCount(ctx context.Context, kind PromoKind, promoID int64, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE `+promoTable(kind)+` SET used_count=used_count+1, updated_at=$2 WHERE id=$1`,
		promoID, FormatTime(at))
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}
