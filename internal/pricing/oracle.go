// Package pricing is the fixed-rate price oracle. Rates are configuration,
// not market data; all arithmetic is on integers in minor units.
package pricing

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RateScale is the fixed-point precision of the GBP/USD rate.
	RateScale = 1_000_000
	// ScaleDiff converts 2-decimal pence into 6-decimal USDC units.
	ScaleDiff = 10_000
	// USDCDecimals is the stablecoin's decimal count.
	USDCDecimals = 6
)

// Default rates.
const (
	DefaultGBPUSD        = "1.27"
	DefaultWstETHPrice   = "5391.94"
	DefaultPointsPerUSDC = "1"
)

var (
	bigRateScale = big.NewInt(RateScale)
	bigScaleDiff = big.NewInt(ScaleDiff)
)

// Quote is one GBP to USDC conversion.
type Quote struct {
	AsOf      string
	GBPUSD    decimal.Decimal
	GBPMinor  *big.Int
	USDCMinor *big.Int
}

// Oracle converts between GBP, USDC, wstETH and points at fixed rates.
type Oracle struct {
	gbpUSD            decimal.Decimal
	rateScaled        *big.Int
	wstPriceMicroUSDC *big.Int
	pointsPerUSDC     decimal.Decimal
	now               func() time.Time
}

// Config holds decimal strings for each rate. Empty strings select the
// defaults.
type Config struct {
	GBPUSD        string
	WstETHPrice   string
	PointsPerUSDC string
}

// New parses the configured rates.
func New(cfg Config) (*Oracle, error) {
	gbpUSD, err := parsePositive("GBP/USD rate", cfg.GBPUSD, DefaultGBPUSD)
	if err != nil {
		return nil, err
	}
	wstPrice, err := parsePositive("wstETH price", cfg.WstETHPrice, DefaultWstETHPrice)
	if err != nil {
		return nil, err
	}
	points, err := parseNonNegative("points per USDC", cfg.PointsPerUSDC, DefaultPointsPerUSDC)
	if err != nil {
		return nil, err
	}

	return &Oracle{
		gbpUSD:            gbpUSD,
		rateScaled:        gbpUSD.Shift(6).Round(0).BigInt(),
		wstPriceMicroUSDC: wstPrice.Shift(USDCDecimals).Round(0).BigInt(),
		pointsPerUSDC:     points,
		now:               time.Now,
	}, nil
}

// MustNew is New for static configuration known to be valid.
func MustNew(cfg Config) *Oracle {
	o, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return o
}

// GBPMinorToUSDCMinor converts pence to USDC minor units, rounding up so
// the system never under-quotes. Non-positive input converts to zero.
func (o *Oracle) GBPMinorToUSDCMinor(gbpMinor *big.Int) Quote {
	q := Quote{
		AsOf:      o.now().UTC().Format("2006-01-02"),
		GBPUSD:    o.gbpUSD,
		GBPMinor:  big.NewInt(0),
		USDCMinor: big.NewInt(0),
	}
	if gbpMinor == nil || gbpMinor.Sign() <= 0 {
		return q
	}

	numerator := new(big.Int).Mul(gbpMinor, bigScaleDiff)
	numerator.Mul(numerator, o.rateScaled)

	q.GBPMinor = new(big.Int).Set(gbpMinor)
	q.USDCMinor = ceilDiv(numerator, bigRateScale)
	return q
}

// USDCMinorToWst quotes how much wstETH (in base units of a token with
// wstDecimals decimals) usdcMinor buys. Rounds down.
func (o *Oracle) USDCMinorToWst(usdcMinor *big.Int, wstDecimals uint8) *big.Int {
	if usdcMinor == nil || usdcMinor.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(usdcMinor, pow10(wstDecimals))
	return out.Quo(out, o.wstPriceMicroUSDC)
}

// WstToUSDCMinor values a wstETH amount in USDC minor units. Rounds down.
func (o *Oracle) WstToUSDCMinor(wst *big.Int, wstDecimals uint8) *big.Int {
	if wst == nil || wst.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(wst, o.wstPriceMicroUSDC)
	return out.Quo(out, pow10(wstDecimals))
}

// PointsForUSDCMinor converts a settled USDC amount into points token base
// units. Fractions of a base unit are dropped.
func (o *Oracle) PointsForUSDCMinor(usdcMinor *big.Int, pointsDecimals uint8) *big.Int {
	if usdcMinor == nil || usdcMinor.Sign() <= 0 || o.pointsPerUSDC.IsZero() {
		return big.NewInt(0)
	}
	usdc := decimal.NewFromBigInt(usdcMinor, -USDCDecimals)
	return usdc.Mul(o.pointsPerUSDC).Shift(int32(pointsDecimals)).Floor().BigInt()
}

// FormatUSD renders USDC minor units as "$1,234.56", rounding half up to
// the cent.
func FormatUSD(usdcMinor *big.Int) string {
	if usdcMinor == nil {
		usdcMinor = big.NewInt(0)
	}
	s := decimal.NewFromBigInt(usdcMinor, -USDCDecimals).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

// USDCUnits formats minor units as a plain decimal string, e.g. "31.75".
func USDCUnits(usdcMinor *big.Int) string {
	if usdcMinor == nil {
		return "0"
	}
	return decimal.NewFromBigInt(usdcMinor, -USDCDecimals).String()
}

func ceilDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Add(a, b)
	out.Sub(out, big.NewInt(1))
	return out.Quo(out, b)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func parsePositive(name, raw, def string) (decimal.Decimal, error) {
	d, err := parseNonNegative(name, raw, def)
	if err != nil {
		return d, err
	}
	if d.IsZero() {
		return d, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func parseNonNegative(name, raw, def string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		raw = def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return d, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	if d.IsNegative() {
		return d, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
