package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/form"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
	"greendrake/housemarket/internal/upload"
)

// imagesField is the multipart field carrying listing images.
const imagesField = "images"

// RestListingHandler handles REST requests for listings.
type RestListingHandler struct {
	listingService    services.IListingService
	submissionService services.ISubmissionService
	pageSize          int
	recommendedCount  int
	maxMultipartBytes int64
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService, submissionService services.ISubmissionService, pageSize, recommendedCount int, maxImageBytes int64) *RestListingHandler {
	return &RestListingHandler{
		listingService:    listingService,
		submissionService: submissionService,
		pageSize:          pageSize,
		recommendedCount:  recommendedCount,
		maxMultipartBytes: maxImageBytes * models.MaxImages,
	}
}

// FetchPage handles GET /v1/listings?offer=&type=&user=&limit=&cursor=
func (h *RestListingHandler) FetchPage(c *gin.Context) {
	q := services.ListingQuery{Limit: h.pageSize, Cursor: c.Query("cursor")}
	verr := &apperr.ValidationError{}

	if raw := c.Query("offer"); raw != "" {
		offer, err := strconv.ParseBool(raw)
		if err != nil {
			verr.Add("offer", "must be true or false")
		}
		q.Offer = &offer
	}
	if raw := c.Query("type"); raw != "" {
		t := models.ListingType(raw)
		if !t.Valid() {
			verr.Add("type", "must be sale or rent")
		}
		q.Type = &t
	}
	if raw := c.Query("user"); raw != "" {
		userRef, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			verr.Add("user", "invalid id")
		}
		q.UserRef = &userRef
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > models.MaxFetchLimit {
			verr.Add("limit", "must be between 1 and %d", models.MaxFetchLimit)
		}
		q.Limit = limit
	}
	if err := verr.OrNil(); err != nil {
		respondError(c, err)
		return
	}

	page, err := h.listingService.FetchPage(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Recommended handles GET /v1/listings/recommended
func (h *RestListingHandler) Recommended(c *gin.Context) {
	n := h.recommendedCount
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > models.MaxFetchLimit {
			respondError(c, apperr.Invalid("limit", "must be between 1 and %d", models.MaxFetchLimit))
			return
		}
		n = limit
	}

	listings, err := h.listingService.Recommended(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": listings})
}

// GetListingByID handles GET /v1/listings/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	listingID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.FindByID(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// CreateListing handles POST /v1/listings (multipart form).
func (h *RestListingHandler) CreateListing(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	mf, err := h.parseMultipart(c)
	if err != nil {
		respondError(c, err)
		return
	}

	state, err := form.Decode(form.Default(), postFormLookup(mf))
	if err != nil {
		respondError(c, err)
		return
	}

	listing, err := h.submissionService.Create(c.Request.Context(), ownerID, state, imagesFrom(mf), services.SubmitOptions{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /v1/listings/:id (multipart form). Omitted fields keep
// their current values; omitted images keep the current images.
func (h *RestListingHandler) UpdateListing(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	_, base, err := h.submissionService.LoadForEdit(c.Request.Context(), ownerID, listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	mf, err := h.parseMultipart(c)
	if err != nil {
		respondError(c, err)
		return
	}
	state, err := form.Decode(base, postFormLookup(mf))
	if err != nil {
		respondError(c, err)
		return
	}

	listing, err := h.submissionService.Update(c.Request.Context(), ownerID, listingID, state, imagesFrom(mf), services.SubmitOptions{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *RestListingHandler) parseMultipart(c *gin.Context) (*multipart.Form, error) {
	if h.maxMultipartBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxMultipartBytes+1<<20)
	}
	mf, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Invalid(imagesField, "invalid multipart form: %v", err)
	}
	return mf, nil
}

func postFormLookup(mf *multipart.Form) func(string) (string, bool) {
	return func(field string) (string, bool) {
		values, ok := mf.Value[field]
		if !ok || len(values) == 0 {
			return "", false
		}
		return values[0], true
	}
}

func imagesFrom(mf *multipart.Form) []upload.Image {
	headers := mf.File[imagesField]
	images := make([]upload.Image, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		images = append(images, upload.Image{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return images
}
