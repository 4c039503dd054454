package roomhandler

type CreateRoomBody struct {
	Name        string `json:"name"        binding:"required" example:"design-sync"`
	Description string `json:"description" example:"weekly design sync"`
	CreatedBy   string `json:"created_by"  binding:"required" example:"user123"`
} // @name CreateRoomRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListRoomsQuery struct {
	Limit  int `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int `form:"offset,default=0"  binding:"gte=0"`
} // @name ListRoomsQuery
