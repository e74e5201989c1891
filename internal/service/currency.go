package service

import (
	"fmt"
	"strings"
	"time"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
)

// RateTable 汇率表：每个币种相对同一基准的价值
type RateTable interface {
	Rate(code string) (decimal.Decimal, error)
	AsOf() time.Time
}

// StaticRateTable 配置文件加载的静态汇率表，创建后只读
type StaticRateTable struct {
	rates map[string]decimal.Decimal
	asOf  time.Time
}

func NewStaticRateTable(rates map[string]float64, asOf time.Time) (*StaticRateTable, error) {
	table := &StaticRateTable{
		rates: make(map[string]decimal.Decimal, len(rates)),
		asOf:  asOf,
	}
	for code, rate := range rates {
		if rate <= 0 {
			return nil, fmt.Errorf("币种 %s 的汇率必须大于0: %w", code, model.ErrValidation)
		}
		// viper 会把 key 转成小写
		table.rates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
	}
	return table, nil
}

func (t *StaticRateTable) Rate(code string) (decimal.Decimal, error) {
	rate, ok := t.rates[strings.ToUpper(code)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", code, model.ErrCurrencyNotFound)
	}
	return rate, nil
}

func (t *StaticRateTable) AsOf() time.Time {
	return t.asOf
}

// Conversion 一次换算的结果
type Conversion struct {
	Amount decimal.Decimal // 目标币种金额，两位小数
	Rate   decimal.Decimal // from -> to 汇率，六位小数
	AsOf   time.Time
}

// ConversionService 币种换算，给定汇率表快照时是纯函数
type ConversionService struct {
	rates RateTable
}

func NewConversionService(rates RateTable) *ConversionService {
	return &ConversionService{rates: rates}
}

// Convert 把 amount 从 from 币种换算成 to 币种
//
//	rate   = rates[from] / rates[to]
//	amount = round(amount * rate, 2)
//
// 金额用未截断的汇率计算，返回的汇率只保留六位用于审计
func (s *ConversionService) Convert(amount decimal.Decimal, from, to string) (*Conversion, error) {
	if strings.EqualFold(from, to) {
		return &Conversion{
			Amount: amount,
			Rate:   decimal.NewFromInt(1),
			AsOf:   s.rates.AsOf(),
		}, nil
	}

	fromRate, err := s.rates.Rate(from)
	if err != nil {
		return nil, err
	}
	toRate, err := s.rates.Rate(to)
	if err != nil {
		return nil, err
	}

	rate := fromRate.Div(toRate)
	return &Conversion{
		Amount: amount.Mul(rate).Round(model.MoneyScale),
		Rate:   rate.Round(model.RateScale),
		AsOf:   s.rates.AsOf(),
	}, nil
}

// Supports 币种不在汇率表中时返回 ErrCurrencyNotFound
func (s *ConversionService) Supports(code string) error {
	_, err := s.rates.Rate(code)
	return err
}
