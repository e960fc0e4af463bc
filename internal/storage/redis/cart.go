// Package redis keeps open carts in Redis so a till can reconnect to its cart
// after a restart or from another pos-server instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/mall-pos/internal/domain/cart"
)

const keyPrefix = "pos:cart:"

var _ cart.Store = (*CartStore)(nil)

// CartStore stores each session's lines as one JSON value. Every Save renews
// the TTL, so idle carts expire.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

func key(session string) string {
	return keyPrefix + session
}

func (s *CartStore) Load(ctx context.Context, session string) ([]cart.Line, error) {
	raw, err := s.client.Get(ctx, key(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cart %q: %w", session, err)
	}
	lines, err := decodeLines(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding cart %q: %w", session, err)
	}
	return lines, nil
}

func (s *CartStore) Save(ctx context.Context, session string, lines []cart.Line) error {
	if len(lines) == 0 {
		return s.Delete(ctx, session)
	}
	if err := s.client.Set(ctx, key(session), encodeLines(lines), s.ttl).Err(); err != nil {
		return fmt.Errorf("saving cart %q: %w", session, err)
	}
	return nil
}

func (s *CartStore) Delete(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, key(session)).Err(); err != nil {
		return fmt.Errorf("deleting cart %q: %w", session, err)
	}
	return nil
}

// Ping is used by the readiness check.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encodeLines(lines []cart.Line) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		p := l.Product
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(p.ID)
		e.FieldStart("barcode")
		e.Str(p.Barcode)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("price")
		e.Str(p.Price.String())
		e.FieldStart("stock")
		e.Int(p.Quantity)
		e.FieldStart("low_stock")
		e.Bool(p.LowStock)
		e.FieldStart("image_url")
		e.Str(p.ImageURL)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeLines(raw []byte) ([]cart.Line, error) {
	var lines []cart.Line
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		var l cart.Line
		if err := d.Obj(func(d *jx.Decoder, field string) error {
			var err error
			switch field {
			case "product_id":
				l.Product.ID, err = d.Int64()
			case "barcode":
				l.Product.Barcode, err = d.Str()
			case "name":
				l.Product.Name, err = d.Str()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					l.Product.Price, err = decimal.NewFromString(s)
				}
			case "stock":
				l.Product.Quantity, err = d.Int()
			case "low_stock":
				l.Product.LowStock, err = d.Bool()
			case "image_url":
				l.Product.ImageURL, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, field)
			}
			return nil
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}
