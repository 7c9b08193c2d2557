package analyzer

import "strconv"

// ReduceRows collapses rows sharing the same grouping key (by default the
// workpackage's non-iteration parameters) into one row per group. A
// column's own statistical suffix governs how its values combine across the
// group, mirroring how that suffix already reduces matches within one file
// (stats.go): _cnt and _sum add up, _min/_max take the true extreme, _first
// takes the first row's value and _last the last row's, and everything else
// (unsuffixed columns and _avg/_std) averages across the group (spec §4.6
// "reduce" on a result; §8 invariant that _cnt is the true match count).
func ReduceRows(rows []*Row, groupKey func(*Row) string) []*Row {
	order := []string{}
	groups := map[string][]*Row{}
	for _, r := range rows {
		k := groupKey(r)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var out []*Row
	for _, k := range order {
		group := groups[k]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		merged := &Row{WorkpackageID: group[0].WorkpackageID, Params: group[0].Params, Values: map[string]string{}}
		var cols []string
		for col := range group[0].Values {
			cols = append(cols, col)
		}
		for _, col := range cols {
			merged.Values[col] = reduceColumn(col, group)
		}
		out = append(out, merged)
	}
	return out
}

func reduceColumn(col string, group []*Row) string {
	_, suffix := baseAndSuffix(col)

	switch suffix {
	case "_first":
		return group[0].Values[col]
	case "_last":
		return group[len(group)-1].Values[col]
	case "_cnt", "_sum":
		nums, ok := columnFloats(col, group)
		if !ok {
			return group[0].Values[col]
		}
		return formatFloat(sumOf(nums))
	case "_min":
		nums, ok := columnFloats(col, group)
		if !ok {
			return group[0].Values[col]
		}
		return formatFloat(minOf(nums))
	case "_max":
		nums, ok := columnFloats(col, group)
		if !ok {
			return group[0].Values[col]
		}
		return formatFloat(maxOf(nums))
	default:
		nums, ok := columnFloats(col, group)
		if !ok {
			return group[0].Values[col]
		}
		return formatFloat(sumOf(nums) / float64(len(nums)))
	}
}

func columnFloats(col string, group []*Row) ([]float64, bool) {
	nums := make([]float64, 0, len(group))
	for _, r := range group {
		v, err := strconv.ParseFloat(r.Values[col], 64)
		if err != nil {
			return nil, false
		}
		nums = append(nums, v)
	}
	return nums, true
}
