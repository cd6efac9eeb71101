package service

import (
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
)

func orderEmail(o *entity.Order, template, subject string, extra map[string]string) entity.Email {
	data := map[string]string{
		"orderNumber": o.OrderNumber,
		"total":       o.Total.StringFixed(2),
		"status":      string(o.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	return entity.Email{To: o.CustomerEmail, Template: template, Subject: subject, Data: data}
}
