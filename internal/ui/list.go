package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/csync/internal/models"
)

var _ list.Item = jobItem{}

// jobItem wraps [models.Job] to implement [list.Item].
type jobItem struct {
	job    models.Job
	folder string
}

func (i jobItem) FilterValue() string { return i.job.Title }
func (i jobItem) Title() string {
	return fmt.Sprintf("%s  %s", styles.state(i.job.State), i.job.Title)
}
func (i jobItem) Description() string {
	desc := i.folder
	if i.job.JobID != "" {
		desc = fmt.Sprintf("%s • #%s", desc, i.job.JobID)
	} else {
		desc = fmt.Sprintf("%s • not submitted", desc)
	}
	if i.job.Platform != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.job.Platform)
	}
	return desc
}

// jobItems flattens date folders into list items, keeping folder order.
func jobItems(folders []models.Folder) []list.Item {
	var items []list.Item
	for _, f := range folders {
		for _, j := range f.Jobs {
			items = append(items, jobItem{job: j, folder: f.Date})
		}
	}
	return items
}
