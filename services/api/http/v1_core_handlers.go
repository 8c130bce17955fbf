package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/stations"
	"github.com/tawriver/floodwatch/services/internal/store"
)

const defaultReadingsLimit = 200

type stationView struct {
	models.Station
	MeasureID string `json:"measure_id"`
	Unit      string `json:"unit"`
	Table     string `json:"table"`
}

func viewOf(st models.Station) stationView {
	return stationView{
		Station:   st,
		MeasureID: st.MeasureID(),
		Unit:      st.Unit(),
		Table:     store.TableName(st),
	}
}

// handleV1ListStations returns all configured stations
// GET /api/v1/stations
func (s *Server) handleV1ListStations(c *gin.Context) {
	list := s.refresher.Stations()
	views := make([]stationView, 0, len(list))
	for _, st := range list {
		views = append(views, viewOf(st))
	}

	c.JSON(http.StatusOK, gin.H{
		"data": views,
		"meta": gin.H{
			"count": len(views),
		},
	})
}

// handleV1GetStation returns details for a specific station
// GET /api/v1/stations/:id
func (s *Server) handleV1GetStation(c *gin.Context) {
	st, ok := stations.Find(s.refresher.Stations(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": viewOf(st),
	})
}

// handleV1StationReadings returns the tail of a station table
// GET /api/v1/stations/:id/readings?last_n=200
func (s *Server) handleV1StationReadings(c *gin.Context) {
	st, ok := stations.Find(s.refresher.Stations(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	limit := defaultReadingsLimit
	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_n"})
			return
		}
		limit = parsed
	}

	readings, err := s.tables.Load(st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total := len(readings)
	if total > limit {
		readings = readings[total-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"data": readings,
		"meta": gin.H{
			"station_id": st.ID,
			"unit":       st.Unit(),
			"count":      len(readings),
			"total":      total,
		},
	})
}
