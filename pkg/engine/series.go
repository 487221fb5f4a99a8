package engine

import (
	"context"

	"github.com/taskcast/taskcast/pkg/models"
	"github.com/taskcast/taskcast/pkg/store"
)

// ProcessSeries applies series compaction to a raw event and returns the event
// observers will see. Events without both a series id and mode pass through
// untouched, as does keep-all.
//
// accumulate: when the previous series-latest and the new event both carry
// object data with a string "text" field, the returned event's data is the new
// object with its text replaced by the concatenation; every other field comes
// from the new event. The merged (or new) event becomes the series latest.
//
// latest: the previous series entry in the log is replaced in place.
func ProcessSeries(ctx context.Context, st store.ShortTermStore, event models.TaskEvent) (models.TaskEvent, error) {
	if event.SeriesID == "" || event.SeriesMode == "" {
		return event, nil
	}

	switch event.SeriesMode {
	case models.SeriesKeepAll:
		return event, nil

	case models.SeriesAccumulate:
		prev, err := st.GetSeriesLatest(ctx, event.TaskID, event.SeriesID)
		if err != nil {
			return event, &StoreError{Op: "get series latest", Err: err}
		}
		merged := event
		if prev != nil {
			if text, ok := concatText(prev.Data, event.Data); ok {
				data := cloneObject(event.Data)
				data["text"] = text
				merged.Data = data
			}
		}
		if err := st.SetSeriesLatest(ctx, event.TaskID, event.SeriesID, merged); err != nil {
			return merged, &StoreError{Op: "set series latest", Err: err}
		}
		return merged, nil

	case models.SeriesLatest:
		if err := st.ReplaceLastSeriesEvent(ctx, event.TaskID, event.SeriesID, event); err != nil {
			return event, &StoreError{Op: "replace series event", Err: err}
		}
		return event, nil
	}

	return event, nil
}

// concatText returns prev.text + new.text when both data values are objects
// holding a string text field.
func concatText(prevData, newData any) (string, bool) {
	prevText, ok := textField(prevData)
	if !ok {
		return "", false
	}
	newText, ok := textField(newData)
	if !ok {
		return "", false
	}
	return prevText + newText, true
}

func textField(data any) (string, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := obj["text"].(string)
	return text, ok
}

func cloneObject(data any) map[string]any {
	obj, _ := data.(map[string]any)
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	return out
}
