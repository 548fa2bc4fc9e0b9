package notifications

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templateSources = map[string][2]string{
	services.TemplateOrderPaidSeller: {
		"New sale: {{.title}}",
		"Your book {{.title}} sold for {{money .amount .currency}}. Commit to the sale before {{.deadline}} or the order expires and the buyer is refunded.",
	},
	services.TemplateOrderPaidBuyer: {
		"Order {{.orderId}} confirmed",
		"Thanks for your purchase of {{.items}}. We paid {{money .amount .currency}} into escrow and the seller has until {{.deadline}} to commit.",
	},
	services.TemplateOrderCommittedBuyer: {
		"Your order {{.orderId}} is being prepared",
		"The seller committed to your order of {{.items}}. We will let you know when the courier collects it.",
	},
	services.TemplateOrderDeclinedBuyer: {
		"Order {{.orderId}} was cancelled",
		"The seller could not fulfil {{.items}}{{if .reason}} ({{.reason}}){{end}}. A refund of {{money .amount .currency}} is on its way.",
	},
	services.TemplateOrderExpiredBuyer: {
		"Order {{.orderId}} expired",
		"The seller did not commit to {{.items}} in time. A refund of {{money .amount .currency}} is on its way.",
	},
	services.TemplateOrderExpiredSeller: {
		"Sale of {{.title}} expired",
		"You did not commit to order {{.orderId}} before {{.deadline}}. The listing is available again.",
	},
	services.TemplateOrderCollectedBuyer: {
		"Order {{.orderId}} collected",
		"{{.courierName}} collected your parcel.{{if .trackingNumber}} Tracking number: {{.trackingNumber}}.{{end}}",
	},
	services.TemplateOrderInTransitBuyer: {
		"Order {{.orderId}} is on its way",
		"Your parcel is in transit with {{.courierName}}.{{if .trackingNumber}} Tracking number: {{.trackingNumber}}.{{end}}",
	},
	services.TemplateOrderDeliveredBuyer: {
		"Order {{.orderId}} delivered",
		"Your parcel was delivered. Please confirm receipt of {{.items}} or raise a dispute if something is wrong.",
	},
	services.TemplateOrderCompletedSeller: {
		"Order {{.orderId}} completed",
		"The buyer received {{.items}}. Your payout is being processed.",
	},
	services.TemplateOrderDisputed: {
		"Order {{.orderId}} is under review",
		"A dispute was raised on order {{.orderId}}{{if .reason}}: {{.reason}}{{end}}. Our team will be in touch.",
	},
	services.TemplateOrderRefundedBuyer: {
		"Refund for order {{.orderId}}",
		"We refunded {{money .amount .currency}} for {{.items}}.",
	},
	services.TemplatePayoutCompletedSeller: {
		"Payout sent for order {{.orderId}}",
		"We sent {{money .amount .currency}} to your account (reference {{.transferCode}}).",
	},
	services.TemplatePayoutFailedSeller: {
		"Payout for order {{.orderId}} needs attention",
		"We could not send {{money .amount .currency}} to your account. Please check your banking details.",
	},
}

func parseTemplates(funcs template.FuncMap) (map[string]messageTemplate, error) {
	out := make(map[string]messageTemplate, len(templateSources))
	for name, src := range templateSources {
		subject, err := template.New(name + ".subject").Funcs(funcs).Option("missingkey=zero").Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", name, err)
		}
		body, err := template.New(name + ".body").Funcs(funcs).Option("missingkey=zero").Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", name, err)
		}
		out[name] = messageTemplate{subject: subject, body: body}
	}
	return out, nil
}

func execute(tmpl *template.Template, vars map[string]any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), "<no value>", "")), nil
}
