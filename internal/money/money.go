// Package money переводит десятичные суммы в минимальные денежные единицы (центы) и обратно.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerUnit: количество центов в одной денежной единице.
const MinorUnitsPerUnit = 100

var (
	// ErrNotFinite возвращается для NaN и бесконечностей.
	ErrNotFinite = errors.New("amount must be a finite number")
	// ErrInvalidAmount возвращается, если строку не удалось разобрать как десятичное число.
	ErrInvalidAmount = errors.New("invalid decimal amount")
	// ErrOverflow возвращается, если сумма не помещается в int64 центов.
	ErrOverflow = errors.New("amount overflows minor units")
)

var hundred = decimal.NewFromInt(MinorUnitsPerUnit)

// ToMinorUnits округляет amount*100 до целого, половинки уходят от нуля.
//
// decimal.NewFromFloat берёт кратчайшее десятичное представление float64,
// поэтому 0.285 превращается в 28.5 и округляется до 29, а не до 28.
func ToMinorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrNotFinite
	}
	return fromDecimal(decimal.NewFromFloat(amount))
}

// MustToMinorUnits: вариант ToMinorUnits для констант в тестах и фикстурах.
func MustToMinorUnits(amount float64) int64 {
	minor, err := ToMinorUnits(amount)
	if err != nil {
		panic(err)
	}
	return minor
}

// ParseDecimal разбирает строку вида "1050.99" в центы с тем же правилом округления.
func ParseDecimal(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d)
}

// ToDecimalString форматирует центы с ровно двумя знаками после точки, без разделителей разрядов.
func ToDecimalString(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func fromDecimal(d decimal.Decimal) (int64, error) {
	// Round в shopspring/decimal округляет половины от нуля.
	cents := d.Mul(hundred).Round(0)
	if !cents.BigInt().IsInt64() {
		return 0, ErrOverflow
	}
	return cents.IntPart(), nil
}
