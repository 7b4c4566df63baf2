package basemap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"

	"fire-timelapse/internal/cache"
	"fire-timelapse/internal/common"
)

const (
	// UserAgent is sent with every tile request; OSM rejects anonymous clients
	UserAgent = "fire-timelapse/1.0 (FIRMS timelapse renderer)"

	memoryTiles = 256
	maxTiles    = 64
)

// Stats counts tile activity over a run
type Stats struct {
	Requested  int
	Fetched    int
	MemoryHits int
	DiskHits   int
	Failed     int
}

// Client downloads XYZ tiles sequentially and stitches them into a basemap
type Client struct {
	httpClient *http.Client
	memory     *lru.Cache[string, []byte]
	store      cache.Store
	stats      Stats
}

// NewClient creates a new tile client with system proxy support. store may
// be nil when caching is disabled.
func NewClient(store cache.Store, timeout time.Duration) (*Client, error) {
	memory, err := lru.New[string, []byte](memoryTiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	if store == nil {
		store = cache.Nop{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		memory: memory,
		store:  store,
	}, nil
}

// Stats returns the counters accumulated so far
func (c *Client) Stats() Stats { return c.stats }

// FetchTile returns the encoded tile image, from memory, disk or network
func (c *Client) FetchTile(ctx context.Context, p Provider, t Tile) ([]byte, error) {
	c.stats.Requested++
	tileURL := p.TileURL(t)
	key := cache.Key(common.ProviderBasemap, p.Name, t.String())

	if data, ok := c.memory.Get(key); ok {
		c.stats.MemoryHits++
		return data, nil
	}
	if data, ok := c.store.Get(ctx, key); ok {
		c.stats.DiskHits++
		c.memory.Add(key, data)
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.stats.Failed++
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.stats.Failed++
		return nil, fmt.Errorf("tile request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.stats.Failed++
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	// Error pages served with 200 must not reach the caches
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		c.stats.Failed++
		return nil, fmt.Errorf("tile is not an image: %w", err)
	}

	c.stats.Fetched++
	c.memory.Add(key, data)
	if err := c.store.Set(ctx, key, data); err != nil {
		log.Printf("[Cache] Failed to store tile %s: %v", t, err)
	}
	return data, nil
}

// Render builds a width x height basemap covering extent, a Web Mercator
// bound. Tiles that fail stay transparent; an error is returned only when
// no tile at all could be drawn.
func (c *Client) Render(ctx context.Context, p Provider, extent orb.Bound, width, height int) (image.Image, error) {
	zoom := ZoomForExtent(extent.Max[0]-extent.Min[0], width, p.MaxZoom)
	tb := TilesInBounds(extent, zoom)
	for tb.Cols()*tb.Rows() > maxTiles && zoom > 0 {
		zoom--
		tb = TilesInBounds(extent, zoom)
	}
	log.Printf("[Basemap] %s: zoom %d, %dx%d tiles", p.Name, zoom, tb.Cols(), tb.Rows())

	stitched, drawn := c.stitch(ctx, p, tb)
	if drawn == 0 {
		return nil, fmt.Errorf("no tiles downloaded successfully from %s", p.Name)
	}
	if drawn < tb.Cols()*tb.Rows() {
		log.Printf("[Basemap] %d of %d tiles missing", tb.Cols()*tb.Rows()-drawn, tb.Cols()*tb.Rows())
	}

	// Crop the stitched mosaic to the extent and resample to the frame size
	origin := tb.Origin()
	res := ResolutionAtZoom(zoom)
	src := image.Rect(
		int(math.Floor((extent.Min[0]-origin[0])/res)),
		int(math.Floor((origin[1]-extent.Max[1])/res)),
		int(math.Ceil((extent.Max[0]-origin[0])/res)),
		int(math.Ceil((origin[1]-extent.Min[1])/res)),
	).Intersect(stitched.Bounds())

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(out, out.Bounds(), stitched, src, xdraw.Src, nil)
	return out, nil
}

// stitch downloads every tile in tb and draws it into one mosaic
func (c *Client) stitch(ctx context.Context, p Provider, tb TileBounds) (*image.RGBA, int) {
	mosaic := image.NewRGBA(image.Rect(0, 0, tb.Cols()*TileSize, tb.Rows()*TileSize))

	drawn := 0
	for _, t := range tb.Tiles() {
		if ctx.Err() != nil {
			break
		}
		data, err := c.FetchTile(ctx, p, t)
		if err != nil {
			log.Printf("[Basemap] Tile %s: %v", t, err)
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			log.Printf("[Basemap] Tile %s: failed to decode: %v", t, err)
			continue
		}

		xOffset := (t.X - tb.MinCol) * TileSize
		yOffset := (t.Y - tb.MinRow) * TileSize
		destRect := image.Rect(xOffset, yOffset, xOffset+TileSize, yOffset+TileSize)
		draw.Draw(mosaic, destRect, img, img.Bounds().Min, draw.Src)
		drawn++
	}
	return mosaic, drawn
}
