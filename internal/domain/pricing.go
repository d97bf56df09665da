package domain

// QuotePricing computes the price breakdown for an order. Amounts in cents.
func QuotePricing(od *OrderDetails) *Pricing {
	if od == nil {
		return nil
	}

	base := int64(1000)
	distance := int64(500)
	weight := int64(od.WeightKg * 100)

	var service int64
	switch od.ServiceLevel {
	case ServiceExpress:
		service = (base + weight) / 2
	case ServiceOvernight:
		service = base + weight
	default:
		service = 0
	}

	p := &Pricing{
		BaseCents:     base + weight,
		DistanceCents: distance,
		ServiceCents:  service,
		Currency:      "usd",
	}
	p.TotalCents = p.BaseCents + p.DistanceCents + p.ServiceCents
	return p
}
