package courier

import (
	"strings"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
)

type rateAddress struct {
	Street     string `json:"street"`
	Suburb     string `json:"suburb,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type rateRequest struct {
	Origin      rateAddress `json:"origin"`
	Destination rateAddress `json:"destination"`
	WeightGrams int         `json:"weightGrams"`
}

type rateOption struct {
	Service       string `json:"service"`
	Price         int64  `json:"price"`
	EstimatedDays int    `json:"estimatedDays"`
	Description   string `json:"description"`
}

type rateResponse struct {
	Quotes []rateOption `json:"quotes"`
}

func newRateRequest(req domain.QuoteRequest) rateRequest {
	return rateRequest{
		Origin:      toRateAddress(req.Origin),
		Destination: toRateAddress(req.Destination),
		WeightGrams: req.WeightGrams,
	}
}

func toRateAddress(addr domain.Address) rateAddress {
	country := strings.TrimSpace(addr.Country)
	if country == "" {
		country = "ZA"
	}
	return rateAddress{
		Street:     strings.TrimSpace(addr.Street),
		Suburb:     strings.TrimSpace(addr.Suburb),
		City:       strings.TrimSpace(addr.City),
		Province:   strings.TrimSpace(addr.Province),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    country,
	}
}

// toQuotes drops options without a service name or with a negative price.
func (r rateResponse) toQuotes(provider string) []domain.CourierQuote {
	quotes := make([]domain.CourierQuote, 0, len(r.Quotes))
	for _, option := range r.Quotes {
		service := strings.TrimSpace(option.Service)
		if service == "" || option.Price < 0 {
			continue
		}
		quotes = append(quotes, domain.CourierQuote{
			Courier:       provider,
			ServiceName:   service,
			Price:         option.Price,
			EstimatedDays: option.EstimatedDays,
			Description:   strings.TrimSpace(option.Description),
		})
	}
	return quotes
}
