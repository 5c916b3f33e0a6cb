package engine

import (
	iface "AnpdServer/interface"
	"sort"
	"strconv"
)

// decodeYOLOv5 turns a [1, N, 5+nc] output into candidate results. Each row
// is cx, cy, w, h, objectness, class scores.
func decodeYOLOv5(output []float32, attrs int, conf float32, names []string, lb letterbox) []iface.Result {
	if attrs <= 5 {
		return nil
	}
	var results []iface.Result
	for off := 0; off+attrs <= len(output); off += attrs {
		row := output[off : off+attrs]
		obj := row[4]
		if obj < conf {
			continue
		}
		classID, best := 0, float32(0)
		for c, p := range row[5:] {
			if p > best {
				classID, best = c, p
			}
		}
		score := obj * best
		if score < conf {
			continue
		}
		cx, cy, w, h := row[0], row[1], row[2], row[3]
		x1, y1 := lb.toImage(cx-w/2, cy-h/2)
		x2, y2 := lb.toImage(cx+w/2, cy+h/2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		box := iface.NewBox(x1, y1, x2, y2)
		results = append(results, iface.Result{
			ClassID: classID,
			Class:   className(names, classID),
			Conf:    score,
			Box:     box,
			Center:  box.Center(),
		})
	}
	return results
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return strconv.Itoa(id)
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class. Output is ordered by confidence, then top-left corner.
func nonMaxSuppression(results []iface.Result, iou float32) []iface.Result {
	sortResults(results)
	kept := make([]iface.Result, 0, len(results))
	suppressed := make([]bool, len(results))
	for i := range results {
		if suppressed[i] {
			continue
		}
		kept = append(kept, results[i])
		for j := i + 1; j < len(results); j++ {
			if suppressed[j] || results[j].ClassID != results[i].ClassID {
				continue
			}
			if results[i].Box.IoU(results[j].Box) > iou {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func sortResults(results []iface.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Conf != b.Conf {
			return a.Conf > b.Conf
		}
		if a.Box.LT.Y != b.Box.LT.Y {
			return a.Box.LT.Y < b.Box.LT.Y
		}
		return a.Box.LT.X < b.Box.LT.X
	})
}
