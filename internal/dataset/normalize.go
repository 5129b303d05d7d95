package dataset

const (
	unknownName    = "Unknown"
	allDevices     = "All Devices"
	allDevicesPct  = 100.0
	bucketDistrict = "districts"
	bucketPincode  = "pincodes"
)

func row(key Key, vals ...any) []any {
	out := key.values()
	return append(out, vals...)
}

// normalizeTransaction emits one row per (category, instrument) pair.
// A category with no instruments contributes nothing.
func normalizeTransaction(key Key, raw []byte) (Result, error) {
	if isNull(raw) {
		return skip("missing transactionData")
	}
	var p TransactionPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}
	if p.TransactionData == nil {
		return skip("missing transactionData")
	}

	var rows [][]any
	for _, cat := range *p.TransactionData {
		name := nameOr(cat.Name, unknownName)
		for _, in := range cat.PaymentInstruments {
			rows = append(rows, row(key, name, countOr0(in.Count), floatOr0(in.Amount)))
		}
	}
	return Result{Rows: rows}, nil
}

// normalizeUser emits device rows, or one synthetic "All Devices" row, or
// nothing. Never a mix.
func normalizeUser(key Key, raw []byte) (Result, error) {
	if isEmpty(raw) {
		return skip("no data")
	}
	var p UserPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}

	if len(p.UsersByDevice) > 0 {
		rows := make([][]any, 0, len(p.UsersByDevice))
		for _, d := range p.UsersByDevice {
			rows = append(rows, row(key, nameOr(d.Brand, unknownName), countOr0(d.Count), floatOr0(d.Percentage)))
		}
		return Result{Rows: rows}, nil
	}
	if p.TotalUsers != nil {
		return Result{Rows: [][]any{row(key, allDevices, int64(*p.TotalUsers), allDevicesPct)}}, nil
	}
	return Result{}, nil
}

// normalizeMapTransaction uses only the first metric of each district.
func normalizeMapTransaction(key Key, raw []byte) (Result, error) {
	if isNull(raw) {
		return skip("no hoverDataList")
	}
	var p MapTransactionPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}
	if p.HoverDataList == nil {
		return skip("no hoverDataList")
	}

	var rows [][]any
	for _, d := range *p.HoverDataList {
		if len(d.Metric) == 0 {
			continue
		}
		m := d.Metric[0]
		rows = append(rows, row(key, nameOr(d.Name, unknownName), countOr0(m.Count), floatOr0(m.Amount)))
	}
	return Result{Rows: rows}, nil
}

// normalizeMapUser emits one row per district in document order.
func normalizeMapUser(key Key, raw []byte) (Result, error) {
	if isNull(raw) {
		return skip("no hoverData")
	}
	var p MapUserPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}
	if p.HoverData == nil {
		return skip("no hoverData")
	}

	rows := make([][]any, 0, len(*p.HoverData))
	for _, d := range *p.HoverData {
		rows = append(rows, row(key, d.Name, countOr0(d.RegisteredUsers), countOr0(d.AppOpens)))
	}
	return Result{Rows: rows}, nil
}

func normalizeTopTransaction(key Key, raw []byte) (Result, error) {
	if isEmpty(raw) {
		return skip("no data")
	}
	var p TopTransactionPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}

	rows := make([][]any, 0, len(p.Districts)+len(p.Pincodes))
	add := func(bucket string, entities []TopTransactionEntity) {
		for _, e := range entities {
			var count int64
			var amount float64
			if e.Metric != nil {
				count, amount = countOr0(e.Metric.Count), floatOr0(e.Metric.Amount)
			}
			rows = append(rows, row(key, nameOr(e.EntityName, unknownName), bucket, count, amount))
		}
	}
	add(bucketDistrict, p.Districts)
	add(bucketPincode, p.Pincodes)
	return Result{Rows: rows}, nil
}

func normalizeTopUser(key Key, raw []byte) (Result, error) {
	if isEmpty(raw) {
		return skip("no data")
	}
	var p TopUserPayload
	if err := decodeInto(raw, &p); err != nil {
		return Result{}, err
	}

	rows := make([][]any, 0, len(p.Districts)+len(p.Pincodes))
	add := func(bucket string, entities []TopUserEntity) {
		for _, e := range entities {
			rows = append(rows, row(key, nameOr(e.Name, unknownName), bucket, countOr0(e.RegisteredUsers)))
		}
	}
	add(bucketDistrict, p.Districts)
	add(bucketPincode, p.Pincodes)
	return Result{Rows: rows}, nil
}
