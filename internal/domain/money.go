package domain

import "github.com/shopspring/decimal"

const (
	// DefaultCurrency: валюта витрины.
	DefaultCurrency = "BRL"
	// AmountToleranceMinor: допустимое расхождение суммы провайдера и заказа (1 центавo).
	AmountToleranceMinor int64 = 1
)

var hundred = decimal.NewFromInt(100)

// ToMinor переводит сумму в основных единицах в минимальные.
// Правило одно для всего сервиса: округление до центов half-up
// (от нуля), затем сдвиг на два разряда.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FloatToMinor переводит сумму из float (JSON провайдеров и клиентов) в минимальные единицы.
func FloatToMinor(amount float64) int64 {
	return ToMinor(decimal.NewFromFloat(amount))
}

// FromMinor переводит минимальные единицы в decimal с двумя знаками.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// MinorToFloat переводит минимальные единицы в float для JSON-ответов.
func MinorToFloat(minor int64) float64 {
	f, _ := FromMinor(minor).Float64()
	return f
}

// PercentOf возвращает round(amount * percent / 100) half-up в минимальных единицах.
func PercentOf(amountMinor int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountMinor).Mul(percent).Div(hundred).Round(0).IntPart()
}

// WithinTolerance сравнивает две суммы с допуском AmountToleranceMinor.
func WithinTolerance(a, b int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= AmountToleranceMinor
}
